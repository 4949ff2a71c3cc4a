package geo

import (
	"context"
	"fmt"
	"time"
)

// Code classifies a positioning failure.
type Code string

const (
	// PermissionDenied means the user or platform refused the read.
	PermissionDenied Code = "permission_denied"
	// Unavailable means no position could be determined for this attempt.
	Unavailable Code = "unavailable"
	// Timeout means the attempt did not finish within Options.Timeout.
	Timeout Code = "timeout"
	// Unsupported means the capability is absent entirely.
	Unsupported Code = "unsupported"
	// InsecureContext means the execution context does not meet the
	// capability's security requirement.
	InsecureContext Code = "insecure_context"
)

// Error is a typed positioning failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Terminal reports whether retrying can never succeed.
func (e *Error) Terminal() bool {
	return e.Code == Unsupported || e.Code == InsecureContext
}

// Errf builds an *Error with a formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Coordinates is a single position reading. Optional fields are nil when the
// capability did not report them; a present value is always finite.
type Coordinates struct {
	Latitude  float64
	Longitude float64
	// Accuracy is the horizontal accuracy radius in meters.
	Accuracy *float64
	// Altitude in meters above the reference ellipsoid.
	Altitude *float64
	// Speed over ground in m/s.
	Speed *float64
	// Heading in degrees clockwise from true north, 0..360.
	Heading *float64
}

// Options tune a single read or a watch.
type Options struct {
	// HighAccuracy asks the capability for its best fix at the cost of
	// power and latency.
	HighAccuracy bool
	// Timeout bounds a single attempt. Zero means the provider default.
	Timeout time.Duration
	// MaxCachedAge allows a cached fix no older than this. Zero forces a
	// fresh read.
	MaxCachedAge time.Duration
}

const DefaultTimeout = 10 * time.Second

// Provider is the positioning capability boundary. Implementations report
// capability-level problems from Available and per-attempt problems from
// Current and Watch, always as *Error.
type Provider interface {
	// Available returns nil if the capability can be used, or an *Error
	// with code Unsupported or InsecureContext.
	Available() error

	// Current performs one read, honoring ctx for cancellation.
	Current(ctx context.Context, opts Options) (Coordinates, error)

	// Watch starts a continuous subscription, delivering each reading or
	// per-attempt error to emit. It returns a stop function that must be
	// safe to call more than once.
	Watch(opts Options, emit func(Coordinates, *Error)) (stop func(), err error)
}
