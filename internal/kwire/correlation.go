package kwire

import "sync"

// CorrelationRecord is the per-outstanding-request state needed to decode
// its matching response: the API identity, the response header version
// computed once at request time, and whether the response body itself
// should be decoded.
type CorrelationRecord struct {
	APIKey                int16
	APIVersion            int16
	ResponseHeaderVersion int16
	DecodeResponse        bool
}

// CorrelationMap tracks in-flight requests keyed by correlation id for one
// connection pair. The spec's single-threaded-per-pair model needs no
// locking here, but this proxy's Go translation runs the request and
// response directions on separate goroutines (see kroxy/internal/pipeline),
// so the map is mutex-guarded rather than bare.
type CorrelationMap struct {
	mu sync.Mutex
	m  map[int32]CorrelationRecord
}

// NewCorrelationMap returns an empty correlation map.
func NewCorrelationMap() *CorrelationMap {
	return &CorrelationMap{m: make(map[int32]CorrelationRecord)}
}

// Register records the given correlation id immediately before its request
// frame is written upstream. It fails with ErrDuplicateCorrelation if the
// id is already outstanding — a well-behaved client never reuses an
// in-flight id, so a collision means the stream is desynchronized or the
// client is misbehaving, either of which is fatal to the pair.
func (c *CorrelationMap) Register(correlationID int32, rec CorrelationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[correlationID]; exists {
		return ErrDuplicateCorrelation
	}
	c.m[correlationID] = rec
	return nil
}

// Consume removes and returns the record for correlationID, if any.
func (c *CorrelationMap) Consume(correlationID int32) (CorrelationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.m[correlationID]
	if ok {
		delete(c.m, correlationID)
	}
	return rec, ok
}

// Len reports the number of outstanding correlation ids. Used by tests to
// assert the map drains to empty once all responses have arrived.
func (c *CorrelationMap) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
