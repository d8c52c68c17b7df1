package errors

import "errors"

var (
	// ErrStoreUnavailable reports a network or connection failure reaching
	// the coordination store. The primitives never retry it; callers decide
	// whether to degrade or fail closed.
	ErrStoreUnavailable = errors.New("fence: store unavailable")

	// ErrContended reports a single acquisition attempt that found the
	// resource held elsewhere.
	ErrContended = errors.New("fence: resource contended")

	// ErrContentionTimeout reports a resource that stayed contended through
	// every configured retry. Distinct from ErrStoreUnavailable so callers
	// can tell "resource busy" from "system down".
	ErrContentionTimeout = errors.New("fence: acquisition retries exhausted")

	// ErrNotHeld reports a release or extend on a lock or permit whose
	// ownership was already lost, typically to TTL expiry.
	ErrNotHeld = errors.New("fence: ownership lost")
)
