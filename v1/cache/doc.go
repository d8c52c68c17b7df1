// Package cache provides a typed, TTL-bound view over the coordination
// store. Decoding failures degrade to cache misses so that readers never
// break on stale or incompatible payloads left by older writers.
package cache
