package kwire

import "github.com/twmb/franz-go/pkg/kmsg"

// Frame is the universal unit the decoder produces and the encoder
// consumes: either the raw bytes of an unparsed message, or a fully
// structured one.
type Frame interface {
	CorrelationID() int32
	// EstimateEncodedSize reports the number of bytes Encode will write,
	// excluding the 4-byte length prefix.
	EstimateEncodedSize() int
	// Encode appends the length-prefixed wire form of the frame to dst and
	// returns the result.
	Encode(dst []byte) []byte
}

// OpaqueFrame carries a frame's raw header+body bytes, unparsed. Payload is
// a view into the buffer the frame was decoded from; it must not be
// retained past the buffer's reuse.
type OpaqueFrame struct {
	Payload       []byte
	correlationID int32
	// APIKey and APIVersion are populated for opaque requests (sniffed
	// from the header before the passthrough decision) so the caller can
	// still register a correlation record describing how to handle the
	// matching response. They are left zero for opaque responses, which
	// have no further use for them.
	APIKey     int16
	APIVersion int16
}

// NewOpaqueFrame builds an opaque frame from a raw payload and its
// already-extracted correlation id.
func NewOpaqueFrame(payload []byte, correlationID int32) OpaqueFrame {
	return OpaqueFrame{Payload: payload, correlationID: correlationID}
}

func (f OpaqueFrame) CorrelationID() int32     { return f.correlationID }
func (f OpaqueFrame) EstimateEncodedSize() int { return len(f.Payload) }

func (f OpaqueFrame) Encode(dst []byte) []byte {
	dst = appendLengthPrefix(dst, len(f.Payload))
	return append(dst, f.Payload...)
}

// DecodedRequestFrame is a structured request: header plus body, both
// addressable by the schema catalogue through (APIKey, APIVersion).
type DecodedRequestFrame struct {
	Header        RequestHeader
	HeaderVersion int16
	APIKey        int16
	APIVersion    int16
	Body          kmsg.Request
}

func (f DecodedRequestFrame) CorrelationID() int32 { return f.Header.CorrelationID }

func (f DecodedRequestFrame) EstimateEncodedSize() int {
	return len(f.Encode(nil)) - 4
}

func (f DecodedRequestFrame) Encode(dst []byte) []byte {
	w := NewWriter(256)
	f.Header.EncodeTo(w, f.HeaderVersion)
	body := w.Bytes()
	body = f.Body.AppendTo(body)
	dst = appendLengthPrefix(dst, len(body))
	return append(dst, body...)
}

// DecodedResponseFrame is a structured response: header plus body.
type DecodedResponseFrame struct {
	Header        ResponseHeader
	HeaderVersion int16
	APIKey        int16
	APIVersion    int16
	Body          kmsg.Response
}

func (f DecodedResponseFrame) CorrelationID() int32 { return f.Header.CorrelationID }

func (f DecodedResponseFrame) EstimateEncodedSize() int {
	return len(f.Encode(nil)) - 4
}

func (f DecodedResponseFrame) Encode(dst []byte) []byte {
	w := NewWriter(256)
	f.Header.EncodeTo(w, f.HeaderVersion)
	body := w.Bytes()
	body = f.Body.AppendTo(body)
	dst = appendLengthPrefix(dst, len(body))
	return append(dst, body...)
}

func appendLengthPrefix(dst []byte, n int) []byte {
	return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
