// Package semaphore provides named counting semaphores backed by the
// coordination store. The count check and the token insert run as one
// server-side script, so the permit bound holds even under concurrent
// acquirers on different machines.
//
// The permit set carries a single TTL that is refreshed on every successful
// acquisition. This bounds leakage from crashed holders only while the
// resource is idle: steady acquisition traffic keeps the set alive, and with
// it any tokens whose holders died without releasing. Stuck sets can be
// cleared administratively (see cmd/fencectl).
package semaphore
