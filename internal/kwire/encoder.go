package kwire

import "github.com/valyala/bytebufferpool"

// Encoder writes frames to the wire, registering correlation records for
// requests immediately before emission so the response side can resolve
// them later.
type Encoder struct {
	pool *bytebufferpool.Pool
}

// NewEncoder returns an Encoder backed by the given pool. A nil pool falls
// back to unpooled allocation.
func NewEncoder(pool *bytebufferpool.Pool) *Encoder {
	return &Encoder{pool: pool}
}

// EncodeRequest registers rec in corr (failing with
// ErrDuplicateCorrelation if the id is already outstanding) and returns the
// length-prefixed wire bytes for f. The returned buffer is pooled; release
// it with Release once the bytes have been written to the wire.
func (e *Encoder) EncodeRequest(f Frame, corr *CorrelationMap, rec CorrelationRecord) (*bytebufferpool.ByteBuffer, error) {
	if err := corr.Register(f.CorrelationID(), rec); err != nil {
		return nil, err
	}
	return e.encode(f), nil
}

// EncodeResponse returns the length-prefixed wire bytes for f. The
// correlation record has already been consumed by the decoder by this
// point.
func (e *Encoder) EncodeResponse(f Frame) *bytebufferpool.ByteBuffer {
	return e.encode(f)
}

func (e *Encoder) encode(f Frame) *bytebufferpool.ByteBuffer {
	buf := e.acquire()
	buf.B = f.Encode(buf.B)
	return buf
}

func (e *Encoder) acquire() *bytebufferpool.ByteBuffer {
	if e.pool != nil {
		return e.pool.Get()
	}
	return &bytebufferpool.ByteBuffer{}
}

// Release returns buf to the pool, if any.
func (e *Encoder) Release(buf *bytebufferpool.ByteBuffer) {
	if e.pool != nil {
		e.pool.Put(buf)
	}
}
