// Package progress defines the event stream emitted by batch page
// generation and the hub that fans events out to observability sinks.
package progress
