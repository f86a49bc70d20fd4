package websocket

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/frame"
	"github.com/luciancaetano/kephasws/internal/handshake"
	"github.com/luciancaetano/kephasws/internal/transport"
)

type testExtension struct {
	name  string
	offer string
}

func (e testExtension) Name() string  { return e.name }
func (e testExtension) Offer() string { return e.offer }

// newPipeConn returns a Conn whose transport is one end of a net.Pipe.
func newPipeConn(t *testing.T) (*Conn, *scriptedPeer) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	conn := NewConn(ConnOptions{
		NewTransport: func() transport.Transport {
			return transport.FromConn(clientConn, transport.Config{})
		},
	})
	return conn, newScriptedPeer(t, serverConn)
}

// openConn drives conn to Open and returns the request lines the peer saw.
func openConn(t *testing.T, conn *Conn, peer *scriptedPeer) []string {
	t.Helper()

	ctx := testContext(t)
	if err := conn.Connect(ctx, "ws://example.com/chat"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if conn.State() != kephasws.StateConnected {
		t.Fatalf("State() = %v, want Connected", conn.State())
	}

	linesc := make(chan []string, 1)
	go func() { linesc <- peer.accept(ctx) }()

	resp, err := conn.SendHandshake(ctx)
	if err != nil {
		t.Fatalf("SendHandshake() error = %v", err)
	}
	if resp.StatusCode != 101 || conn.Response() != resp {
		t.Errorf("response = %d, stored %p, want %p", resp.StatusCode, conn.Response(), resp)
	}
	if conn.State() != kephasws.StateOpen {
		t.Fatalf("State() = %v, want Open", conn.State())
	}
	return <-linesc
}

func TestConnOperationsRequireState(t *testing.T) {
	t.Parallel()

	conn := NewConn(ConnOptions{})
	ctx := testContext(t)

	if conn.State() != kephasws.StateClosed {
		t.Fatalf("initial State() = %v", conn.State())
	}
	if _, err := conn.SendHandshake(ctx); !errors.Is(err, kephasws.ErrInvalidState) {
		t.Errorf("SendHandshake() error = %v", err)
	}
	if err := conn.SendFrame(ctx, frame.NewFrame(frame.OpText, nil, true)); !errors.Is(err, kephasws.ErrInvalidState) {
		t.Errorf("SendFrame() error = %v", err)
	}
	if _, err := conn.ReceiveFrame(ctx); !errors.Is(err, kephasws.ErrInvalidState) {
		t.Errorf("ReceiveFrame() error = %v", err)
	}
	if err := conn.Close(ctx, kephasws.CloseNormal, ""); !errors.Is(err, kephasws.ErrInvalidState) {
		t.Errorf("Close() error = %v", err)
	}
	if conn.Response() != nil {
		t.Error("Response() before Open is not nil")
	}
	if conn.State() != kephasws.StateClosed {
		t.Errorf("State() = %v after rejected operations", conn.State())
	}
}

func TestConnConnectInvalidURI(t *testing.T) {
	t.Parallel()

	conn := NewConn(ConnOptions{})
	tests := []struct {
		uri  string
		want error
	}{
		{"", kephasws.ErrInvalidArgument},
		{"/relative", kephasws.ErrNotAnAbsoluteURI},
		{"http://example.com", kephasws.ErrInvalidScheme},
		{"ws://example.com/#frag", kephasws.ErrMustNotContainFragment},
	}
	for _, tt := range tests {
		if err := conn.Connect(testContext(t), tt.uri); !errors.Is(err, tt.want) {
			t.Errorf("Connect(%q) error = %v, want %v", tt.uri, err, tt.want)
		}
	}
	if conn.State() != kephasws.StateClosed {
		t.Errorf("State() = %v, want Closed", conn.State())
	}
}

func TestConnConnectFailureResetsState(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	conn := NewConn(ConnOptions{})
	if err := conn.Connect(testContext(t), "ws://"+addr+"/"); err == nil {
		t.Fatal("Connect() to a closed port succeeded")
	}
	if conn.State() != kephasws.StateClosed {
		t.Errorf("State() = %v, want Closed", conn.State())
	}
	if err := conn.RegisterExtension(testContext(t), testExtension{"x", "x"}); err != nil {
		t.Errorf("RegisterExtension() after failed connect error = %v", err)
	}
}

func TestConnConcurrentConnect(t *testing.T) {
	t.Parallel()

	conn, _ := newPipeConn(t)
	ctx := testContext(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = conn.Connect(ctx, "ws://example.com/")
		}()
	}
	wg.Wait()

	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, kephasws.ErrInvalidState):
			invalid++
		default:
			t.Errorf("Connect() error = %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Errorf("succeeded %d, rejected %d; want 1 and 1", ok, invalid)
	}
	if conn.State() != kephasws.StateConnected {
		t.Errorf("State() = %v, want Connected", conn.State())
	}
}

func TestConnRegisterExtension(t *testing.T) {
	t.Parallel()

	conn, peer := newPipeConn(t)
	ctx := testContext(t)

	if err := conn.RegisterExtension(ctx, nil); !errors.Is(err, kephasws.ErrInvalidArgument) {
		t.Errorf("RegisterExtension(nil) error = %v", err)
	}
	if err := conn.RegisterExtension(ctx, testExtension{"foo", "foo; a=1"}); err != nil {
		t.Fatalf("RegisterExtension() error = %v", err)
	}
	if err := conn.RegisterExtension(ctx, testExtension{"bar", "bar"}); err != nil {
		t.Fatalf("RegisterExtension() error = %v", err)
	}
	if err := conn.RegisterExtension(ctx, testExtension{"foo", "foo"}); !errors.Is(err, kephasws.ErrExtensionsAlreadyRegistered) {
		t.Errorf("duplicate RegisterExtension() error = %v", err)
	}
	if got := conn.Extensions(); len(got) != 2 {
		t.Errorf("Extensions() = %v", got)
	}

	lines := openConn(t, conn, peer)
	if got := headerValue(lines, handshake.HeaderExtensions); got != "foo; a=1, bar" {
		t.Errorf("%s = %q", handshake.HeaderExtensions, got)
	}

	if err := conn.RegisterExtension(ctx, testExtension{"baz", "baz"}); !errors.Is(err, kephasws.ErrInvalidState) {
		t.Errorf("RegisterExtension() while Open error = %v", err)
	}
}

func TestConnHandshakeFailureResetsState(t *testing.T) {
	t.Parallel()

	conn, peer := newPipeConn(t)
	ctx := testContext(t)
	if err := conn.Connect(ctx, "ws://example.com/"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	go func() {
		peer.readRequest(ctx)
		resp := "HTTP/1.1 426 Upgrade Required\r\nSec-WebSocket-Version: 13\r\n\r\n"
		if err := peer.tr.Write(ctx, []byte(resp)); err != nil {
			t.Errorf("peer: write response: %v", err)
		}
	}()

	if _, err := conn.SendHandshake(ctx); !errors.Is(err, kephasws.ErrHandshakeInvalidStatusCode) {
		t.Fatalf("SendHandshake() error = %v, want HandshakeInvalidStatusCode", err)
	}
	if conn.State() != kephasws.StateClosed {
		t.Errorf("State() = %v, want Closed", conn.State())
	}
	if conn.Response() != nil {
		t.Error("Response() after a failed handshake is not nil")
	}
}

func TestConnFramesAndClose(t *testing.T) {
	t.Parallel()

	conn, peer := newPipeConn(t)
	openConn(t, conn, peer)
	ctx := testContext(t)

	go peer.send(serverFrame(frame.OpBinary, "in", true))
	f, err := conn.ReceiveFrame(ctx)
	if err != nil || f.Opcode != frame.OpBinary || string(f.Payload) != "in" {
		t.Fatalf("ReceiveFrame() = %v, %v", f, err)
	}

	errc := make(chan error, 1)
	go func() { errc <- conn.SendFrame(ctx, frame.NewFrame(frame.OpText, []byte("out"), true)) }()
	if f := peer.read(); string(f.Payload) != "out" {
		t.Errorf("peer got %q", f.Payload)
	}
	if err := <-errc; err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}

	go func() { errc <- conn.Close(ctx, kephasws.CloseGoingAway, "later") }()
	if code := peer.expectClose(); code != kephasws.CloseGoingAway {
		t.Errorf("close code = %v", code)
	}
	peer.send(closeFrame(kephasws.CloseNormal, "ok"))

	if err := <-errc; err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if conn.State() != kephasws.StateClosed {
		t.Errorf("State() = %v, want Closed", conn.State())
	}
	code, reason, received := conn.PeerClose()
	if !received || code != kephasws.CloseNormal || reason != "ok" {
		t.Errorf("PeerClose() = %v %q %v", code, reason, received)
	}
	if err := conn.SendFrame(ctx, frame.NewFrame(frame.OpText, nil, true)); !errors.Is(err, kephasws.ErrInvalidState) {
		t.Errorf("SendFrame() after close error = %v", err)
	}
}

func TestConnCloseAfterPeerClose(t *testing.T) {
	t.Parallel()

	conn, peer := newPipeConn(t)
	openConn(t, conn, peer)
	ctx := testContext(t)

	go peer.send(closeFrame(kephasws.CloseGoingAway, ""))
	f, err := conn.ReceiveFrame(ctx)
	if err != nil || f.Opcode != frame.OpClose {
		t.Fatalf("ReceiveFrame() = %v, %v", f, err)
	}

	// the peer's close was already read, so Close only sends
	errc := make(chan error, 1)
	go func() { errc <- conn.Close(ctx, kephasws.CloseGoingAway, "") }()
	if code := peer.expectClose(); code != kephasws.CloseGoingAway {
		t.Errorf("close code = %v", code)
	}
	if err := <-errc; err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
