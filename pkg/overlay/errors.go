package overlay

import "errors"

// Boundary error codes observable at the public-operation boundary.
// Internal failures wrap one of these with fmt.Errorf's %w so callers can
// classify a failure with errors.Is without string matching.
var (
	// ErrInvalid: malformed input or a semantic violation (missing
	// target, phandle collision, forbidden cells update, symbols update,
	// duplicate edit, zero fragments).
	ErrInvalid = errors.New("invalid")

	// ErrNoMem: an allocation failure.
	ErrNoMem = errors.New("no memory")

	// ErrBusy: corruption latch is set, or removal attempted on a
	// non-topmost overlay.
	ErrBusy = errors.New("busy")

	// ErrNoDev: unknown changeset id.
	ErrNoDev = errors.New("no such device")
)
