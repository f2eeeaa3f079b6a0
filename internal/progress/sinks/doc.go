// Package sinks provides progress.Sink implementations for logging, metrics
// export, and an in-memory event history.
package sinks
