package websocket

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/frame"
	"github.com/luciancaetano/kephasws/internal/handshake"
	"github.com/luciancaetano/kephasws/internal/transport"
)

const testTimeout = 2 * time.Second

// scriptedPeer plays the server side of a net.Pipe.
type scriptedPeer struct {
	t    *testing.T
	conn net.Conn
	tr   *transport.TCP
}

func newScriptedPeer(t *testing.T, conn net.Conn) *scriptedPeer {
	return &scriptedPeer{t: t, conn: conn, tr: transport.FromConn(conn, transport.Config{})}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// readRequest reads the handshake request head.
func (p *scriptedPeer) readRequest(ctx context.Context) []string {
	var lines []string
	for {
		line, err := p.tr.ReadLine(ctx)
		if err != nil {
			p.t.Errorf("peer: read request: %v", err)
			return lines
		}
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func headerValue(lines []string, name string) string {
	for _, l := range lines {
		k, v, ok := strings.Cut(l, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// accept answers a handshake request with 101 and returns the request lines.
func (p *scriptedPeer) accept(ctx context.Context) []string {
	lines := p.readRequest(ctx)
	key := headerValue(lines, handshake.HeaderKey)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + handshake.AcceptKey(key) + "\r\n\r\n"
	if err := p.tr.Write(ctx, []byte(resp)); err != nil {
		p.t.Errorf("peer: write response: %v", err)
	}
	return lines
}

// send writes an unmasked server frame.
func (p *scriptedPeer) send(f *frame.Frame) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := f.WriteTo(ctx, p.tr); err != nil {
		p.t.Errorf("peer: write frame %s: %v", f, err)
	}
}

// read reads the next client frame.
func (p *scriptedPeer) read() *frame.Frame {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	f, err := frame.ReadFrom(ctx, p.tr)
	if err != nil {
		p.t.Fatalf("peer: read frame: %v", err)
	}
	if !f.Masked {
		p.t.Errorf("peer: client frame %s is not masked", f)
	}
	return f
}

// expectNothing fails if the client writes within d.
func (p *scriptedPeer) expectNothing(d time.Duration) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if f, err := frame.ReadFrom(ctx, p.tr); err == nil {
		p.t.Errorf("peer: unexpected client frame %s", f)
	}
}

// expectClose reads a close frame and returns its code.
func (p *scriptedPeer) expectClose() kephasws.CloseCode {
	p.t.Helper()
	f := p.read()
	if f.Opcode != frame.OpClose {
		p.t.Fatalf("peer: got %s frame, want close", f.Opcode)
	}
	code, _, err := frame.ParseClosePayload(f.Payload)
	if err != nil {
		p.t.Fatalf("peer: bad close payload: %v", err)
	}
	return code
}

func serverFrame(op frame.Opcode, payload string, fin bool) *frame.Frame {
	return &frame.Frame{Fin: fin, Opcode: op, Payload: []byte(payload)}
}

func closeFrame(code kephasws.CloseCode, reason string) *frame.Frame {
	return &frame.Frame{Fin: true, Opcode: frame.OpClose, Payload: frame.ClosePayload(code, reason)}
}

// recorder captures session events.
type recorder struct {
	opened   chan struct{}
	messages chan kephasws.Message
	frames   chan *frame.Frame
	errors   chan error
	closes   chan kephasws.CloseEvent
	commands chan []byte
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan kephasws.Message, 16),
		frames:   make(chan *frame.Frame, 64),
		errors:   make(chan error, 4),
		closes:   make(chan kephasws.CloseEvent, 4),
		commands: make(chan []byte, 4),
	}
}

func (r *recorder) attach(cfg *ClientConfig) *ClientConfig {
	cfg.OnOpen = func(kephasws.Session) { r.opened <- struct{}{} }
	cfg.OnMessage = func(msg kephasws.Message) { r.messages <- msg }
	cfg.OnFrame = func(f *frame.Frame) {
		select {
		case r.frames <- f:
		default:
		}
	}
	cfg.OnError = func(err error) { r.errors <- err }
	cfg.OnClose = func(ev kephasws.CloseEvent) { r.closes <- ev }
	cfg.OnCommand = func(command uint32, payload []byte) {
		out := make([]byte, 4, 4+len(payload))
		out[0], out[1], out[2], out[3] = byte(command>>24), byte(command>>16), byte(command>>8), byte(command)
		r.commands <- append(out, payload...)
	}
	return cfg
}

func (r *recorder) message(t *testing.T) kephasws.Message {
	t.Helper()
	select {
	case msg := <-r.messages:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("no message dispatched")
		return kephasws.Message{}
	}
}

func (r *recorder) closed(t *testing.T) kephasws.CloseEvent {
	t.Helper()
	select {
	case ev := <-r.closes:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("no close event")
		return kephasws.CloseEvent{}
	}
}

func (r *recorder) failure(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errors:
		return err
	case <-time.After(testTimeout):
		t.Fatal("no error event")
		return nil
	}
}

// openPipeClient opens a client over net.Pipe against a scripted peer.
func openPipeClient(t *testing.T, cfg *ClientConfig) (*Client, *scriptedPeer) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	if cfg.URL == "" {
		cfg.URL = "ws://example.com/chat"
	}
	client, err := NewClientConn(cfg, clientConn)
	if err != nil {
		t.Fatalf("NewClientConn() error = %v", err)
	}
	peer := newScriptedPeer(t, serverConn)

	ctx := testContext(t)
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		peer.accept(ctx)
	}()

	if err := client.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	<-accepted
	return client, peer
}
