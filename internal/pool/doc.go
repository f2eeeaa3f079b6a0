// Package pool defines the core domain types shared across the page
// generation pipeline: pages, links, domains, generation settings, and the
// persisted snapshot shape. It also hosts the slug and host normalization
// helpers every other component relies on.
package pool
