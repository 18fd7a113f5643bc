package kwire

import (
	"encoding/binary"
	"io"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// DecodePredicate answers whether a frame at (apiKey, apiVersion) should be
// fully decoded rather than passed through opaquely. The interceptor
// registry supplies the concrete predicate; kwire only depends on this
// narrow function type so it never imports the intercept package.
type DecodePredicate func(apiKey, apiVersion int16) bool

// Decoder reads length-prefixed Kafka frames from an io.Reader, consulting
// a correlation map for responses (whose wire form carries no API key) and
// a decode predicate to choose between structured decode and opaque
// passthrough.
//
// Decoder is read-oriented rather than a manual incremental push parser:
// io.Reader already buffers partial frames across TCP segments the way the
// spec's "buffer partial input until complete" contract requires, so
// reading through a bufio.Reader-backed connection gets that behavior for
// free without re-implementing it by hand.
type Decoder struct {
	MaxFrameSize int
}

// NewDecoder returns a Decoder enforcing maxFrameSize as the configured
// frame length ceiling.
func NewDecoder(maxFrameSize int) *Decoder {
	return &Decoder{MaxFrameSize: maxFrameSize}
}

// ReadRequest reads one request frame from src.
func (d *Decoder) ReadRequest(src io.Reader, shouldDecode DecodePredicate) (Frame, error) {
	payload, err := d.readFramePayload(src)
	if err != nil {
		return nil, err
	}
	return d.decodeRequest(payload, shouldDecode)
}

// ReadResponse reads one response frame from src, resolving its API
// identity through the correlation map.
func (d *Decoder) ReadResponse(src io.Reader, corr *CorrelationMap) (Frame, error) {
	payload, err := d.readFramePayload(src)
	if err != nil {
		return nil, err
	}
	return d.decodeResponse(payload, corr)
}

func (d *Decoder) readFramePayload(src io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := int(binary.BigEndian.Uint32(lenBuf[:]))
	if frameLen < 0 || (d.MaxFrameSize > 0 && frameLen > d.MaxFrameSize) {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(src, payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return payload, nil
}

func (d *Decoder) decodeRequest(payload []byte, shouldDecode DecodePredicate) (Frame, error) {
	sniff := NewReader(payload)
	apiKey, err := sniff.Int16()
	if err != nil {
		return nil, err
	}
	apiVersion, err := sniff.Int16()
	if err != nil {
		return nil, err
	}
	correlationID, err := sniff.Int32()
	if err != nil {
		return nil, err
	}

	if shouldDecode == nil || !shouldDecode(apiKey, apiVersion) {
		f := NewOpaqueFrame(payload, correlationID)
		f.APIKey, f.APIVersion = apiKey, apiVersion
		return f, nil
	}

	headerVersion := RequestHeaderVersion(apiKey, apiVersion)
	r := NewReader(payload)
	header, err := DecodeRequestHeader(r, headerVersion)
	if err != nil {
		return nil, err
	}

	body := kmsg.RequestForKey(apiKey)
	if body == nil {
		// Schema catalogue has no type for this key; fall back to opaque
		// rather than fail the pair over an API we simply don't model.
		f := NewOpaqueFrame(payload, correlationID)
		f.APIKey, f.APIVersion = apiKey, apiVersion
		return f, nil
	}
	body.SetVersion(apiVersion)
	// ReadFrom consumes the entire remaining span and itself fails on
	// leftover bytes, so trailing-byte detection is delegated to the
	// schema catalogue rather than re-checked here.
	if err := body.ReadFrom(r.Remaining()); err != nil {
		return nil, err
	}

	return DecodedRequestFrame{
		Header:        header,
		HeaderVersion: headerVersion,
		APIKey:        apiKey,
		APIVersion:    apiVersion,
		Body:          body,
	}, nil
}

func (d *Decoder) decodeResponse(payload []byte, corr *CorrelationMap) (Frame, error) {
	if len(payload) < 4 {
		return nil, ErrShortRead
	}
	correlationID := int32(binary.BigEndian.Uint32(payload[0:4]))

	rec, ok := corr.Consume(correlationID)
	if !ok {
		return nil, ErrUnknownCorrelation
	}
	if !rec.DecodeResponse {
		return NewOpaqueFrame(payload, correlationID), nil
	}

	r := NewReader(payload)
	header, err := DecodeResponseHeader(r, rec.ResponseHeaderVersion)
	if err != nil {
		return nil, err
	}

	body := kmsg.ResponseForKey(rec.APIKey)
	if body == nil {
		return NewOpaqueFrame(payload, correlationID), nil
	}
	body.SetVersion(rec.APIVersion)
	if err := body.ReadFrom(r.Remaining()); err != nil {
		return nil, err
	}

	return DecodedResponseFrame{
		Header:        header,
		HeaderVersion: rec.ResponseHeaderVersion,
		APIKey:        rec.APIKey,
		APIVersion:    rec.APIVersion,
		Body:          body,
	}, nil
}
