// Package store provides the shared handle to the coordination store. All
// higher-level primitives (cache, lock, semaphore, ratelimit) go through a
// Handle; its pooled client makes concurrent use safe without any caller-side
// locking. Network failures surface as errors.ErrStoreUnavailable.
package store
