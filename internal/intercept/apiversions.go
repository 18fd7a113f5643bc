package intercept

import (
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxy/kroxy/internal/kwire"
)

const apiKeyAPIVersions = 18

// SupportedRange is the proxy's own supported version window for one API
// key. Any key without an entry is dropped from the advertised response
// entirely — the proxy doesn't claim to support an API it has no window
// for.
type SupportedRange struct {
	Min, Max int16
}

// APIVersionsInterceptor narrows every advertised API key's version range
// to the intersection of the broker's advertised range and the proxy's own
// supported range. This is the interceptor every Kafka proxy must run:
// without it a client may negotiate a version only the broker, not the
// proxy, can parse.
type APIVersionsInterceptor struct {
	Supported map[int16]SupportedRange
}

// NewAPIVersionsInterceptor builds an interceptor clamping to supported.
func NewAPIVersionsInterceptor(supported map[int16]SupportedRange) *APIVersionsInterceptor {
	return &APIVersionsInterceptor{Supported: supported}
}

func (a *APIVersionsInterceptor) ShouldDecodeRequest(apiKey, apiVersion int16) bool {
	return false
}

func (a *APIVersionsInterceptor) ShouldDecodeResponse(apiKey, apiVersion int16) bool {
	return apiKey == apiKeyAPIVersions
}

// HandleResponse narrows each api key's advertised [min,max] to the
// intersection with the proxy's own supported range. A key whose
// intersection is empty is dropped from the response: the interceptor's
// job is advertising capability, not enforcing it, so an unsupported
// version request still reaches the broker and gets the broker's own
// UNSUPPORTED_VERSION error rather than a synthesized one.
func (a *APIVersionsInterceptor) HandleResponse(ctx *Context, f kwire.DecodedResponseFrame) (kwire.DecodedResponseFrame, error) {
	resp, ok := f.Body.(*kmsg.ApiVersionsResponse)
	if !ok {
		return f, nil
	}

	kept := resp.ApiKeys[:0]
	for _, entry := range resp.ApiKeys {
		proxyRange, ok := a.Supported[entry.ApiKey]
		if !ok {
			continue
		}
		min := entry.MinVersion
		if proxyRange.Min > min {
			min = proxyRange.Min
		}
		max := entry.MaxVersion
		if proxyRange.Max < max {
			max = proxyRange.Max
		}
		if min > max {
			continue
		}
		entry.MinVersion, entry.MaxVersion = min, max
		kept = append(kept, entry)
	}
	resp.ApiKeys = kept

	return f, nil
}
