package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kroxy/kroxy/internal/intercept"
)

func writeFrame(w io.Writer, payload []byte) {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(payload)))
	w.Write(hdr)
	w.Write(payload)
}

// opaqueRequestPayload builds a raw request: apiKey, apiVersion,
// correlationId, followed by an arbitrary body the proxy never parses.
func opaqueRequestPayload(apiKey, apiVersion int16, correlationID int32, body []byte) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(apiKey))
	binary.BigEndian.PutUint16(buf[2:4], uint16(apiVersion))
	binary.BigEndian.PutUint32(buf[4:8], uint32(correlationID))
	return append(buf, body...)
}

func opaqueResponsePayload(correlationID int32, body []byte) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(correlationID))
	return append(buf, body...)
}

func readFrame(t *testing.T, r io.Reader) []byte {
	t.Helper()
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	n := binary.BigEndian.Uint32(hdr)
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	return payload
}

func testForwarder(t *testing.T, brokerAddr string) (*Forwarder, net.Listener) {
	t.Helper()
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	bh, bp := splitHostPort(t, brokerAddr)
	f := &Forwarder{
		BrokerHost:   bh,
		BrokerPort:   bp,
		Registry:     intercept.NewRegistry(),
		MaxFrameSize: 1 << 20,
		Watermarks:   DefaultWatermarks,
		Log:          zap.NewNop(),
		Emit:         func(Event) {},
		Listener:     proxyLn,
	}
	return f, proxyLn
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

// --- S3: opaque passthrough ---

func TestForwarder_OpaquePassthrough(t *testing.T) {
	brokerLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer brokerLn.Close()

	reqBody := []byte("produce-records-here")
	reqPayload := opaqueRequestPayload(0 /* Produce */, 9, 1, reqBody)

	brokerDone := make(chan []byte, 1)
	go func() {
		conn, err := brokerLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		got := readFrame(t, conn)
		brokerDone <- got

		// Echo a response back, byte-identical in shape to what a real
		// broker would send for this correlation id.
		writeFrame(conn, opaqueResponsePayload(1, []byte("produce-ack")))
	}()

	f, proxyLn := testForwarder(t, brokerLn.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	client, err := net.Dial("tcp", proxyLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	writeFrame(client, reqPayload)

	select {
	case got := <-brokerDone:
		if !bytes.Equal(got, reqPayload) {
			t.Errorf("broker received %x, want %x (bit-exact passthrough)", got, reqPayload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broker never received the forwarded request")
	}

	respPayload := readFrame(t, client)
	want := opaqueResponsePayload(1, []byte("produce-ack"))
	if !bytes.Equal(respPayload, want) {
		t.Errorf("client received %x, want %x (bit-exact passthrough)", respPayload, want)
	}
}

// --- S4: out-of-order responses ---

func TestForwarder_OutOfOrderResponses(t *testing.T) {
	brokerLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer brokerLn.Close()

	brokerReady := make(chan struct{})
	go func() {
		conn, err := brokerLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		close(brokerReady)

		f1 := readFrame(t, conn) // FETCH correlation 10
		f2 := readFrame(t, conn) // FETCH correlation 11
		_ = f1
		_ = f2

		// Respond out of order: 11 then 10.
		writeFrame(conn, opaqueResponsePayload(11, []byte("fetch-11")))
		writeFrame(conn, opaqueResponsePayload(10, []byte("fetch-10")))
	}()

	f, proxyLn := testForwarder(t, brokerLn.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	client, err := net.Dial("tcp", proxyLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	writeFrame(client, opaqueRequestPayload(1 /* Fetch */, 11, 10, nil))
	writeFrame(client, opaqueRequestPayload(1, 11, 11, nil))

	first := readFrame(t, client)
	second := readFrame(t, client)

	firstCorr := int32(binary.BigEndian.Uint32(first[0:4]))
	secondCorr := int32(binary.BigEndian.Uint32(second[0:4]))

	if firstCorr != 11 || secondCorr != 10 {
		t.Errorf("got correlation order %d,%d, want 11,10 preserved from the broker", firstCorr, secondCorr)
	}
}

// --- S6: malformed frame ---

func TestForwarder_MalformedFrameClosesPair(t *testing.T) {
	brokerLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer brokerLn.Close()

	var brokerWG sync.WaitGroup
	brokerWG.Add(1)
	go func() {
		defer brokerWG.Done()
		conn, err := brokerLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.Read(buf)
	}()

	f, proxyLn := testForwarder(t, brokerLn.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	client, err := net.Dial("tcp", proxyLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// Declare a length of 10 but only send 3 bytes of header before closing
	// the write side, simulating a truncated frame.
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 10)
	client.Write(hdr)
	client.Write([]byte{0x00, 0x12, 0x00})
	if tc, ok := client.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	// The pair must close rather than hang; reading from the client side
	// should observe EOF once the proxy tears the pair down.
	buf := make([]byte, 16)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(buf)
	if err == nil {
		t.Error("expected the proxy to close the connection on a malformed frame")
	}

	brokerLn.Close()
	brokerWG.Wait()
}

// --- Connect-ordering: outbound dial failure closes inbound immediately ---

func TestForwarder_BrokerDialFailureClosesClient(t *testing.T) {
	// Reserve a port, then close it immediately so nothing is listening —
	// guaranteed connection refused.
	tmpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := tmpLn.Addr().String()
	tmpLn.Close()

	f, proxyLn := testForwarder(t, deadAddr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	client, err := net.Dial("tcp", proxyLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	buf := make([]byte, 16)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(buf)
	if err == nil {
		t.Error("expected the proxy to close the client connection after a failed broker dial")
	}
}
