// Package geo wraps a positioning capability behind the Provider interface
// and exposes it as a Source supporting one-shot reads and continuous
// watches.
//
// Error Taxonomy:
//
// Every failure carries a Code. Unsupported and InsecureContext are terminal
// capability-level conditions: retrying cannot succeed and callers should
// surface them once. PermissionDenied, Unavailable, and Timeout apply to a
// single attempt and may be retried on the next read or watch tick.
//
// Cancellation:
//
// A one-shot read is bound to its context; a result arriving after the
// context is cancelled is discarded, never delivered. Watch cancellation is
// idempotent, and each watch handle owns at most one underlying provider
// subscription.
//
// Usage:
//
//	src := geo.NewSource(provider)
//	coords, err := src.Current(ctx, geo.Options{HighAccuracy: true})
//
//	handle, err := src.Watch(geo.Options{}, onReading, onError)
//	defer src.Cancel(handle)
package geo
