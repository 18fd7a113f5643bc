package pipeline

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/kroxy/kroxy/internal/intercept"
	"github.com/kroxy/kroxy/internal/kwire"
)

// State is a connection pair's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateHalfClosed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateHalfClosed:
		return "half-closed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Watermarks configures the backpressure hysteresis band for both
// directions of a pair.
type Watermarks struct {
	High int
	Low  int
}

// DefaultWatermarks matches Kafka's own default message.max.bytes-scale
// buffering: a generous high watermark with a low watermark at a quarter
// of it, wide enough that ordinary request/response traffic never
// oscillates the suspend/resume boundary.
var DefaultWatermarks = Watermarks{High: 16 << 20, Low: 4 << 20}

// Pair owns one accepted client connection and its dialed broker
// connection, and runs both directions of the pipeline until either side
// closes.
type Pair struct {
	ID       string
	client   net.Conn
	broker   net.Conn
	corr     *kwire.CorrelationMap
	registry *intercept.Registry
	decoder  *kwire.Decoder
	encoder  *kwire.Encoder
	log      *zap.Logger
	emit     func(Event)
	wm       Watermarks

	state atomic.Int32

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// NewPair wires a freshly accepted client connection to its dialed broker
// connection.
func NewPair(client, broker net.Conn, registry *intercept.Registry, maxFrameSize int, pool *bytebufferpool.Pool, wm Watermarks, log *zap.Logger, emit func(Event)) *Pair {
	p := &Pair{
		ID:       uuid.NewString(),
		client:   client,
		broker:   broker,
		corr:     kwire.NewCorrelationMap(),
		registry: registry,
		decoder:  kwire.NewDecoder(maxFrameSize),
		encoder:  kwire.NewEncoder(pool),
		emit:     emit,
		wm:       wm,
	}
	p.log = log.With(zap.String("pair_id", p.ID))
	p.state.Store(int32(StateConnecting))
	return p
}

// State reports the pair's current lifecycle stage.
func (p *Pair) State() State { return State(p.state.Load()) }

// Run drives both directions of the pipeline until one side closes or ctx
// is cancelled. It blocks until the pair is fully torn down.
func (p *Pair) Run(ctx context.Context) {
	start := time.Now()
	p.state.Store(int32(StateActive))

	p.emit(Event{
		Type: EventConnectionOpened,
		Connection: ConnectionInfo{
			PairID: p.ID,
			Client: p.client.RemoteAddr().String(),
			Broker: p.broker.RemoteAddr().String(),
		},
	})

	clientOut := NewFlowBuffer(p.wm.High, p.wm.Low)
	brokerOut := NewFlowBuffer(p.wm.High, p.wm.Low)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.client.Close()
			p.broker.Close()
			clientOut.Close()
			brokerOut.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	clientWriteDone := make(chan struct{})
	brokerWriteDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); defer close(clientWriteDone); p.writeLoop(p.client, clientOut) }()
	go func() { defer wg.Done(); defer close(brokerWriteDone); p.writeLoop(p.broker, brokerOut) }()
	go func() {
		defer wg.Done()
		n := p.requestPump(brokerOut)
		p.bytesIn.Store(n)
		brokerOut.Close()
		// Wait for the broker writeLoop to flush everything already queued
		// before half-closing the write side, so a frame still in flight
		// when the client closes is never silently dropped.
		<-brokerWriteDone
		if tc, ok := p.broker.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		n := p.responsePump(clientOut)
		p.bytesOut.Store(n)
		clientOut.Close()
		<-clientWriteDone
		if tc, ok := p.client.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	p.state.Store(int32(StateHalfClosed))
	wg.Wait()
	p.state.Store(int32(StateClosed))

	var closeErr error
	if err := p.client.Close(); err != nil {
		closeErr = multierror.Append(closeErr, err)
	}
	if err := p.broker.Close(); err != nil {
		closeErr = multierror.Append(closeErr, err)
	}
	if closeErr != nil {
		p.log.Debug("connection pair close errors", zap.Error(closeErr))
	}

	p.emit(Event{
		Type: EventConnectionClosed,
		Connection: ConnectionInfo{
			PairID:     p.ID,
			Client:     p.client.RemoteAddr().String(),
			Broker:     p.broker.RemoteAddr().String(),
			BytesIn:    p.bytesIn.Load(),
			BytesOut:   p.bytesOut.Load(),
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

// requestPump reads client frames, runs the request handler chain, encodes
// and queues them for the broker, and registers a correlation record for
// each one so the response side can resolve it later. Returns the total
// length-prefixed bytes encoded for the broker (equal to the bytes read from
// the client for frames no interceptor changed).
func (p *Pair) requestPump(dst *FlowBuffer) int64 {
	var total int64
	for {
		frame, err := p.decoder.ReadRequest(p.client, p.registry.ShouldDecodeRequest)
		if err != nil {
			return total
		}

		var apiKey, apiVersion int16
		switch f := frame.(type) {
		case kwire.DecodedRequestFrame:
			apiKey, apiVersion = f.APIKey, f.APIVersion
		case kwire.OpaqueFrame:
			apiKey, apiVersion = f.APIKey, f.APIVersion
		}

		if decoded, ok := frame.(kwire.DecodedRequestFrame); ok {
			hctx := &intercept.Context{Log: p.log, PairID: p.ID}
			decoded, err = p.registry.RunRequestChain(hctx, decoded)
			if err != nil {
				return total
			}
			frame = decoded
		}

		rec := kwire.CorrelationRecord{
			APIKey:                apiKey,
			APIVersion:            apiVersion,
			ResponseHeaderVersion: kwire.ResponseHeaderVersion(apiKey, apiVersion),
			DecodeResponse:        p.registry.ShouldDecodeResponse(apiKey, apiVersion),
		}

		buf, err := p.encoder.EncodeRequest(frame, p.corr, rec)
		if err != nil {
			return total
		}
		total += int64(len(buf.B))
		if err := dst.Push(buf.B, func() { p.encoder.Release(buf) }); err != nil {
			p.encoder.Release(buf)
			return total
		}
	}
}

// responsePump reads broker frames, resolves them against the correlation
// map, runs the response handler chain, and queues the result for the
// client. Returns the total length-prefixed bytes encoded for the client
// (equal to the bytes read from the broker for frames no interceptor
// changed).
func (p *Pair) responsePump(dst *FlowBuffer) int64 {
	var total int64
	for {
		frame, err := p.decoder.ReadResponse(p.broker, p.corr)
		if err != nil {
			return total
		}

		if decoded, ok := frame.(kwire.DecodedResponseFrame); ok {
			hctx := &intercept.Context{Log: p.log, PairID: p.ID}
			decoded, err = p.registry.RunResponseChain(hctx, decoded)
			if err != nil {
				return total
			}
			frame = decoded

			if synth, ok := hctx.Synthetic(); ok {
				frame = synth
			}
		}

		buf := p.encoder.EncodeResponse(frame)
		total += int64(len(buf.B))
		if err := dst.Push(buf.B, func() { p.encoder.Release(buf) }); err != nil {
			p.encoder.Release(buf)
			return total
		}
	}
}

// writeLoop drains fb and writes each item to conn until fb is closed and
// empty, releasing each item's backing buffer once written.
func (p *Pair) writeLoop(conn net.Conn, fb *FlowBuffer) {
	for {
		b, release, ok := fb.Pop()
		if !ok {
			return
		}
		_, err := conn.Write(b)
		if release != nil {
			release()
		}
		if err != nil {
			return
		}
	}
}
