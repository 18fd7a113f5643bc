package kwire

import (
	"bytes"
	"testing"

	"github.com/valyala/bytebufferpool"
)

func TestEncoder_EncodeRequestRegistersCorrelation(t *testing.T) {
	pool := &bytebufferpool.Pool{}
	e := NewEncoder(pool)
	corr := NewCorrelationMap()

	body := []byte("opaque-body")
	f := NewOpaqueFrame(body, 99)

	buf, err := e.EncodeRequest(f, corr, CorrelationRecord{APIKey: 18, APIVersion: 3, DecodeResponse: true})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	defer e.Release(buf)

	if !bytes.Equal(buf.B, f.Encode(nil)) {
		t.Fatal("encoded bytes mismatch")
	}
	rec, ok := corr.Consume(99)
	if !ok {
		t.Fatal("expected correlation record to be registered")
	}
	if rec.APIKey != 18 || rec.APIVersion != 3 {
		t.Fatalf("got %+v", rec)
	}
}

func TestEncoder_EncodeRequestDuplicateCorrelation(t *testing.T) {
	pool := &bytebufferpool.Pool{}
	e := NewEncoder(pool)
	corr := NewCorrelationMap()

	f := NewOpaqueFrame([]byte("a"), 1)
	if _, err := e.EncodeRequest(f, corr, CorrelationRecord{}); err != nil {
		t.Fatalf("first EncodeRequest: %v", err)
	}
	if _, err := e.EncodeRequest(f, corr, CorrelationRecord{}); err != ErrDuplicateCorrelation {
		t.Fatalf("got err %v, want ErrDuplicateCorrelation", err)
	}
}

func TestEncoder_EncodeResponse(t *testing.T) {
	e := NewEncoder(nil)
	f := NewOpaqueFrame([]byte("resp-body"), 5)
	buf := e.EncodeResponse(f)
	if !bytes.Equal(buf.B, f.Encode(nil)) {
		t.Fatal("encoded bytes mismatch")
	}
}
