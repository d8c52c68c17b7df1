// Package ratelimit provides a fixed-window request counter backed by the
// coordination store, shared by every process that checks the same
// identifier.
package ratelimit
