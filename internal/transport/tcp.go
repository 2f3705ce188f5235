// internal/transport/tcp.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// tcpTransport reads a byte stream from a TCP peer, such as a serial-to-network bridge
type tcpTransport struct {
	sel      Selector
	settings Settings
	conn     net.Conn
	logger   *zap.Logger

	mutex  sync.Mutex
	closed bool
}

// OpenTCP dials sel.Address
func OpenTCP(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	settings = settings.withDefaults()
	logger := settings.Logger.With(
		zap.String("transport", "tcp"),
		zap.String("address", sel.Address),
	)

	logger.Info("Opening TCP connection")

	dialer := &net.Dialer{
		Timeout:   settings.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", sel.Address)
	if err != nil {
		logger.Error("Failed to open TCP connection", zap.Error(err))
		return nil, &ConnectionError{Selector: sel, Op: "dial", Err: fmt.Errorf("failed to connect to %s: %w", sel.Address, err)}
	}

	logger.Info("TCP connection opened successfully")
	return &tcpTransport{
		sel:      sel,
		settings: settings,
		conn:     conn,
		logger:   logger,
	}, nil
}

// ReadChunk reads with a deadline of the configured read timeout
func (t *tcpTransport) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.isClosed() {
		return nil, &IoError{Selector: t.sel, Op: "read", Err: ErrClosed}
	}

	deadline := time.Now().Add(t.settings.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, &IoError{Selector: t.sel, Op: "read", Err: fmt.Errorf("failed to set read deadline: %w", err)}
	}

	buffer := make([]byte, t.settings.ReadBufferSize)
	n, err := t.conn.Read(buffer)
	if n > 0 {
		return buffer[:n], nil
	}

	switch {
	case err == nil, errors.Is(err, os.ErrDeadlineExceeded):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrEmpty
	case t.isClosed() || errors.Is(err, net.ErrClosed):
		return nil, &IoError{Selector: t.sel, Op: "read", Err: ErrClosed}
	case errors.Is(err, io.EOF):
		t.logger.Warn("TCP peer closed the connection")
		return nil, &IoError{Selector: t.sel, Op: "read", Err: fmt.Errorf("connection closed by peer: %w", err)}
	default:
		t.logger.Error("TCP read failed", zap.Error(err))
		return nil, &IoError{Selector: t.sel, Op: "read", Err: fmt.Errorf("failed to read from TCP connection: %w", err)}
	}
}

func (t *tcpTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.conn.Close(); err != nil {
		t.logger.Error("Failed to close TCP connection", zap.Error(err))
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	t.logger.Info("TCP connection closed successfully")
	return nil
}

func (t *tcpTransport) Info() Info {
	return Info{Kind: KindTCP, Address: t.sel.Address}
}

func (t *tcpTransport) isClosed() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.closed
}
