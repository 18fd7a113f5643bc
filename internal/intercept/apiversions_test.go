package intercept

import (
	"testing"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxy/kroxy/internal/kwire"
)

func TestAPIVersionsInterceptor_ShouldDecode(t *testing.T) {
	ic := NewAPIVersionsInterceptor(nil)
	if ic.ShouldDecodeRequest(18, 3) {
		t.Fatal("should never decode requests")
	}
	if !ic.ShouldDecodeResponse(18, 3) {
		t.Fatal("should decode API_VERSIONS responses")
	}
	if ic.ShouldDecodeResponse(3, 9) {
		t.Fatal("should not decode Metadata responses")
	}
}

func TestAPIVersionsInterceptor_Clamp(t *testing.T) {
	// Proxy supports key 18 in [0,8]; broker advertises [3,12].
	ic := NewAPIVersionsInterceptor(map[int16]SupportedRange{
		18: {Min: 0, Max: 8},
	})
	resp := &kmsg.ApiVersionsResponse{
		ApiKeys: []kmsg.ApiVersionsResponseApiKey{
			{ApiKey: 18, MinVersion: 3, MaxVersion: 12},
		},
	}
	f := kwire.DecodedResponseFrame{APIKey: 18, Body: resp}

	got, err := ic.HandleResponse(&Context{}, f)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	out := got.Body.(*kmsg.ApiVersionsResponse)
	if len(out.ApiKeys) != 1 {
		t.Fatalf("got %d entries, want 1", len(out.ApiKeys))
	}
	if out.ApiKeys[0].MinVersion != 3 || out.ApiKeys[0].MaxVersion != 8 {
		t.Fatalf("got [%d,%d], want [3,8]", out.ApiKeys[0].MinVersion, out.ApiKeys[0].MaxVersion)
	}
}

func TestAPIVersionsInterceptor_EmptyIntersectionDropsKey(t *testing.T) {
	ic := NewAPIVersionsInterceptor(map[int16]SupportedRange{
		20: {Min: 0, Max: 2},
	})
	resp := &kmsg.ApiVersionsResponse{
		ApiKeys: []kmsg.ApiVersionsResponseApiKey{
			{ApiKey: 20, MinVersion: 5, MaxVersion: 9}, // no overlap with [0,2]
			{ApiKey: 21, MinVersion: 0, MaxVersion: 1}, // no entry in Supported at all
		},
	}
	f := kwire.DecodedResponseFrame{APIKey: 18, Body: resp}
	got, err := ic.HandleResponse(&Context{}, f)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	out := got.Body.(*kmsg.ApiVersionsResponse)
	if len(out.ApiKeys) != 0 {
		t.Fatalf("got %d entries, want 0", len(out.ApiKeys))
	}
}

func TestAPIVersionsInterceptor_Idempotent(t *testing.T) {
	ic := NewAPIVersionsInterceptor(map[int16]SupportedRange{
		18: {Min: 0, Max: 8},
	})
	resp := &kmsg.ApiVersionsResponse{
		ApiKeys: []kmsg.ApiVersionsResponseApiKey{
			{ApiKey: 18, MinVersion: 3, MaxVersion: 12},
		},
	}
	f := kwire.DecodedResponseFrame{APIKey: 18, Body: resp}

	once, err := ic.HandleResponse(&Context{}, f)
	if err != nil {
		t.Fatal(err)
	}
	// HandleResponse narrows the response in place, so copy the first
	// result before applying the interceptor a second time.
	o1 := append([]kmsg.ApiVersionsResponseApiKey(nil), once.Body.(*kmsg.ApiVersionsResponse).ApiKeys...)
	twice, err := ic.HandleResponse(&Context{}, once)
	if err != nil {
		t.Fatal(err)
	}
	o2 := twice.Body.(*kmsg.ApiVersionsResponse).ApiKeys
	if len(o1) != len(o2) ||
		o1[0].ApiKey != o2[0].ApiKey ||
		o1[0].MinVersion != o2[0].MinVersion ||
		o1[0].MaxVersion != o2[0].MaxVersion {
		t.Fatalf("intersection not idempotent: %+v vs %+v", o1, o2)
	}
}
