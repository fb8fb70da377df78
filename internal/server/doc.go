// Package server implements the HTTP surface of the event board: the JSON
// API over events, the shared-credential login with its session gate, the
// static pages and the health and metrics endpoints. It wires the event
// store and blob store handed to it and provides lifecycle helpers used by
// tests and the production binary.
package server
