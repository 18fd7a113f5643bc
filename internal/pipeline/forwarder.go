package pipeline

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/matgreaves/run"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/kroxy/kroxy/internal/intercept"
)

// Forwarder listens for client connections and, for each one, dials the
// configured broker and runs a connection pair between them. It is the
// listener-and-wiring layer: accept loop, dial, pair construction.
type Forwarder struct {
	ListenHost string
	ListenPort int
	BrokerHost string
	BrokerPort int

	Registry   *intercept.Registry
	MaxFrameSize int
	Watermarks Watermarks
	Log        *zap.Logger
	Emit       func(Event)

	// Listener, if set, is used instead of opening a new one. Avoids a
	// TOCTOU race between binding and listening, and lets tests pass in an
	// ephemeral-port listener opened ahead of time.
	Listener net.Listener

	pool bytebufferpool.Pool
}

// Runner returns a run.Runner wrapping the accept loop, the same idiom the
// teacher uses to compose a listener into a larger lifecycle.
func (f *Forwarder) Runner() run.Runner {
	return run.Func(f.Run)
}

// Run accepts connections until ctx is cancelled or the listener errs.
func (f *Forwarder) Run(ctx context.Context) error {
	ln, err := f.getListener()
	if err != nil {
		return fmt.Errorf("kroxy: listen on %s: %w", f.listenAddr(), err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		client, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kroxy: accept: %w", err)
		}
		go f.handleConn(ctx, client)
	}
}

func (f *Forwarder) handleConn(ctx context.Context, client net.Conn) {
	broker, err := net.DialTimeout("tcp", f.brokerAddr(), 5*time.Second)
	if err != nil {
		f.Log.Warn("dial broker failed, closing client", zap.String("broker", f.brokerAddr()), zap.Error(err))
		client.Close()
		return
	}

	pair := NewPair(client, broker, f.Registry, f.MaxFrameSize, &f.pool, f.Watermarks, f.Log, f.Emit)
	pair.Run(ctx)
}

func (f *Forwarder) getListener() (net.Listener, error) {
	if f.Listener != nil {
		return f.Listener, nil
	}
	return net.Listen("tcp", f.listenAddr())
}

func (f *Forwarder) listenAddr() string {
	return fmt.Sprintf("%s:%d", f.ListenHost, f.ListenPort)
}

func (f *Forwarder) brokerAddr() string {
	return fmt.Sprintf("%s:%d", f.BrokerHost, f.BrokerPort)
}
