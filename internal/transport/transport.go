// Package transport provides the byte-stream connection the WebSocket client
// runs over.
//
// Every blocking call takes a context. Cancelling it aborts the pending read
// or write by moving the connection deadline into the past.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadBufferSize = 4096
	defaultDialTimeout    = 30 * time.Second

	// readGrowth caps how far ReadExactly grows its buffer ahead of the bytes
	// read so far.
	readGrowth = 64 * 1024
)

var (
	// ErrNotConnected is returned by I/O on a transport that has no connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrAlreadyConnected is returned by Connect on a connected transport.
	ErrAlreadyConnected = errors.New("transport: already connected")
	// ErrLineTooLong is returned by ReadLine when a line does not fit the read buffer.
	ErrLineTooLong = errors.New("transport: line too long")

	aLongTimeAgo = time.Unix(1, 0)
)

// Transport is a bidirectional byte stream.
//
// Reads and writes may run concurrently with each other; byte order is
// preserved per direction. Concurrent writers must be serialized by the
// caller.
type Transport interface {
	// Connect opens the stream to host:port, over TLS when useTLS is set.
	Connect(ctx context.Context, host string, port int, useTLS bool) error

	// ReadExactly reads exactly n bytes.
	ReadExactly(ctx context.Context, n int) ([]byte, error)

	// ReadLine reads one line terminated by "\r\n" or "\n" and returns it
	// without the terminator. An empty string marks the end of a header block.
	ReadLine(ctx context.Context) (string, error)

	// Write writes all of p.
	Write(ctx context.Context, p []byte) error

	// Close shuts the stream down. It is safe to call more than once.
	Close() error
}

// Config configures a TCP transport.
type Config struct {
	// DialTimeout bounds the TCP connect. Zero means 30 seconds.
	DialTimeout time.Duration
	// TLSConfig is used for wss connections. ServerName defaults to the host.
	TLSConfig *tls.Config
	// ReadBufferSize is the size of the buffered reader, which also bounds
	// the length of a line returned by ReadLine.
	ReadBufferSize int
	Logger         *zap.Logger
}

// TCP is a Transport over a net.Conn.
type TCP struct {
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	conn         net.Conn
	br           *bufio.Reader
	preconnected bool

	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*TCP)(nil)

// NewTCP creates an unconnected TCP transport.
func NewTCP(cfg Config) *TCP {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCP{cfg: cfg, logger: logger.Named("transport")}
}

// FromConn wraps an established connection. Connect on the result is a no-op.
func FromConn(conn net.Conn, cfg Config) *TCP {
	t := NewTCP(cfg)
	t.conn = conn
	t.br = bufio.NewReaderSize(conn, t.cfg.ReadBufferSize)
	t.preconnected = true
	return t
}

// Connect dials host:port and, for useTLS, performs the TLS handshake.
func (t *TCP) Connect(ctx context.Context, host string, port int, useTLS bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		if t.preconnected {
			return nil
		}
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if useTLS {
		cfg := &tls.Config{}
		if t.cfg.TLSConfig != nil {
			cfg = t.cfg.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	t.conn = conn
	t.br = bufio.NewReaderSize(conn, t.cfg.ReadBufferSize)
	t.logger.Debug("connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Bool("tls", useTLS),
	)
	return nil
}

// ReadExactly reads exactly n bytes. The buffer grows with the bytes read,
// so a large n from an untrusted length field costs nothing up front.
func (t *TCP) ReadExactly(ctx context.Context, n int) ([]byte, error) {
	conn, br, err := t.current()
	if err != nil {
		return nil, err
	}

	p := make([]byte, 0, min(n, readGrowth))
	err = t.withDeadline(ctx, conn.SetReadDeadline, func() error {
		for len(p) < n {
			step := min(readGrowth, n-len(p))
			p = slices.Grow(p, step)
			if _, err := io.ReadFull(br, p[len(p):len(p)+step]); err != nil {
				return err
			}
			p = p[:len(p)+step]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ReadLine reads one line without its terminator.
func (t *TCP) ReadLine(ctx context.Context) (string, error) {
	conn, br, err := t.current()
	if err != nil {
		return "", err
	}

	var line string
	err = t.withDeadline(ctx, conn.SetReadDeadline, func() error {
		b, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return ErrLineTooLong
		}
		if err != nil {
			return err
		}
		b = b[:len(b)-1]
		if len(b) > 0 && b[len(b)-1] == '\r' {
			b = b[:len(b)-1]
		}
		line = string(b)
		return nil
	})
	return line, err
}

// Write writes all of p.
func (t *TCP) Write(ctx context.Context, p []byte) error {
	conn, _, err := t.current()
	if err != nil {
		return err
	}
	return t.withDeadline(ctx, conn.SetWriteDeadline, func() error {
		_, err := conn.Write(p)
		return err
	})
}

// Close closes the underlying connection once.
func (t *TCP) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.closeOnce.Do(func() {
		t.closeErr = conn.Close()
		t.logger.Debug("closed", zap.Error(t.closeErr))
	})
	return t.closeErr
}

// RemoteAddr returns the peer address, or "" when not connected.
func (t *TCP) RemoteAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

func (t *TCP) current() (net.Conn, *bufio.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, nil, ErrNotConnected
	}
	return t.conn, t.br, nil
}

// withDeadline runs op, aborting it when ctx is done by setting an expired
// deadline through set. The deadline is cleared again before returning.
func (t *TCP) withDeadline(ctx context.Context, set func(time.Time) error, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() == nil {
		return op()
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = set(aLongTimeAgo)
		close(fired)
	})

	err := op()
	if !stop() {
		<-fired
		_ = set(time.Time{})
		if err != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
	return err
}
