package kwire

import "github.com/twmb/franz-go/pkg/kmsg"

// RequestHeader is the Kafka request header. ClientID is present from
// header version 1 onward; Tags is only populated (and only written) at
// header version 2.
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string
	Tags          []byte // raw tagged-field span, header version 2 only
}

// ResponseHeader is the Kafka response header. Tags is only populated at
// header version 1.
type ResponseHeader struct {
	CorrelationID int32
	Tags          []byte
}

// RequestHeaderVersion consults the schema catalogue for the request header
// version that (apiKey, apiVersion) uses, rather than hard-coding the
// table: v2 once the request itself is flexible (KIP-482), else v1.
func RequestHeaderVersion(apiKey, apiVersion int16) int16 {
	req := kmsg.RequestForKey(apiKey)
	if req == nil {
		return 1
	}
	req.SetVersion(apiVersion)
	if req.IsFlexible() {
		return 2
	}
	return 1
}

// ResponseHeaderVersion consults the schema catalogue for the response
// header version that (apiKey, apiVersion) uses. API_VERSIONS (key 18) is
// a hard special case: Kafka never uses a flexible response header for it,
// even when the response body itself is a flexible version, because a
// client issues ApiVersions before it knows whether the broker understands
// tagged fields at all.
func ResponseHeaderVersion(apiKey, apiVersion int16) int16 {
	if apiKey == 18 {
		return 0
	}
	resp := kmsg.ResponseForKey(apiKey)
	if resp == nil {
		return 0
	}
	resp.SetVersion(apiVersion)
	if resp.IsFlexible() {
		return 1
	}
	return 0
}

// DecodeRequestHeader reads a request header at the given header version.
func DecodeRequestHeader(r *Reader, headerVersion int16) (RequestHeader, error) {
	var h RequestHeader
	apiKey, err := r.Int16()
	if err != nil {
		return h, err
	}
	apiVersion, err := r.Int16()
	if err != nil {
		return h, err
	}
	correlationID, err := r.Int32()
	if err != nil {
		return h, err
	}
	h.APIKey, h.APIVersion, h.CorrelationID = apiKey, apiVersion, correlationID
	if headerVersion >= 1 {
		clientID, err := r.NullableString()
		if err != nil {
			return h, err
		}
		h.ClientID = clientID
	}
	if headerVersion >= 2 {
		tags, err := r.TagBuffer()
		if err != nil {
			return h, err
		}
		h.Tags = tags
	}
	return h, nil
}

// EncodeTo writes the request header at the given header version.
func (h RequestHeader) EncodeTo(w *Writer, headerVersion int16) {
	w.Int16(h.APIKey)
	w.Int16(h.APIVersion)
	w.Int32(h.CorrelationID)
	if headerVersion >= 1 {
		w.NullableString(h.ClientID)
	}
	if headerVersion >= 2 {
		w.TagBuffer(h.Tags)
	}
}

// DecodeResponseHeader reads a response header at the given header version.
func DecodeResponseHeader(r *Reader, headerVersion int16) (ResponseHeader, error) {
	var h ResponseHeader
	correlationID, err := r.Int32()
	if err != nil {
		return h, err
	}
	h.CorrelationID = correlationID
	if headerVersion >= 1 {
		tags, err := r.TagBuffer()
		if err != nil {
			return h, err
		}
		h.Tags = tags
	}
	return h, nil
}

// EncodeTo writes the response header at the given header version.
func (h ResponseHeader) EncodeTo(w *Writer, headerVersion int16) {
	w.Int32(h.CorrelationID)
	if headerVersion >= 1 {
		w.TagBuffer(h.Tags)
	}
}
