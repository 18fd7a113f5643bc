// Package kwire implements the Kafka wire protocol frame codec: a byte
// cursor and varint codec, request/response headers, frame types, an
// incremental decoder and encoder, and the per-connection correlation map.
package kwire

import "github.com/pkg/errors"

// Error taxonomy. Framing and correlation errors are fatal to the
// connection pair that produced them; callers close the pair rather than
// attempt recovery, per the policy that a desynchronized stream cannot be
// trusted at the frame level.
var (
	ErrMalformedVarint      = errors.New("kwire: malformed varint")
	ErrShortRead            = errors.New("kwire: short read")
	ErrUnknownCorrelation   = errors.New("kwire: unknown correlation id")
	ErrDuplicateCorrelation = errors.New("kwire: duplicate correlation id")
	ErrFrameTooLarge        = errors.New("kwire: frame length exceeds maximum")
)

// Trailing bytes after a structured decode (spec §4.2, §7) are detected by
// the schema catalogue itself: kmsg's generated ReadFrom parses a message
// against the exact remaining span of the frame and fails if any of it is
// left unconsumed, so that error surfaces directly from decodeRequest and
// decodeResponse rather than being re-detected and re-wrapped here.

func newError(format string, args ...any) error {
	return errors.Errorf(format, args...)
}
