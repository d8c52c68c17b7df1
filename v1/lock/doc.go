// Package lock provides named distributed mutual-exclusion locks backed by
// the coordination store. Ownership is proven by a per-acquisition token;
// release and extend run as single server-side scripts so a stale holder can
// never clear a lock that was reclaimed after TTL expiry. Locks always carry
// a TTL to bound leakage from crashed holders.
package lock
