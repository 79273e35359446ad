package matroska

import "errors"

// Errors surfaced to callers.
var (
	// ErrNotMatroska is returned when neither an EBML header nor a
	// Segment can be located in the stream.
	ErrNotMatroska = errors.New("not a matroska file")

	// ErrTruncated is reported when a declared element size extends past
	// the end of the stream or past its parent container. It is fatal
	// for the Segment being read but recoverable across Segments.
	ErrTruncated = errors.New("truncated element")
)

// Recoverable format problems. These are logged and substituted, never
// returned to the caller.
var (
	errInvalidVint = errors.New("invalid VINT")
	errFloatSize   = errors.New("unexpected float size")
	errDateSize    = errors.New("unexpected date size")
)
