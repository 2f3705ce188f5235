//go:build !js

// internal/transport/serial_tarm.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// tarmSerial reads a serial port through github.com/tarm/serial
type tarmSerial struct {
	sel      Selector
	settings Settings
	port     *serial.Port
	logger   *zap.Logger

	mutex  sync.Mutex
	closed bool
}

// OpenTarmSerial opens a serial port with the tarm/serial driver
func OpenTarmSerial(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	settings = settings.withDefaults()
	logger := settings.Logger.With(
		zap.String("transport", "serial"),
		zap.String("driver", "tarm"),
		zap.String("port", sel.Address),
	)

	cfg, err := tarmConfig(sel.Address, settings)
	if err != nil {
		return nil, &ConnectionError{Selector: sel, Op: "configure", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: err}
	}

	logger.Info("Opening serial port", zap.Int("baud_rate", settings.BaudRate))

	port, err := serial.OpenPort(cfg)
	if err != nil {
		logger.Error("Failed to open serial port", zap.Error(err))
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: err}
	}

	if err := port.Flush(); err != nil {
		logger.Warn("Failed to flush serial port", zap.Error(err))
	}

	logger.Info("Serial port opened successfully")
	return &tarmSerial{
		sel:      sel,
		settings: settings,
		port:     port,
		logger:   logger,
	}, nil
}

// ReadChunk reads up to ReadBufferSize bytes. tarm reports an expired read
// timeout as io.EOF, which maps to ErrEmpty.
func (s *tarmSerial) ReadChunk(ctx context.Context) ([]byte, error) {
	if s.isClosed() {
		return nil, &IoError{Selector: s.sel, Op: "read", Err: ErrClosed}
	}

	done := make(chan readResult, 1)
	go func() {
		buffer := make([]byte, s.settings.ReadBufferSize)
		n, err := s.port.Read(buffer)
		done <- readResult{data: buffer[:n], err: err}
	}()

	select {
	case result := <-done:
		if len(result.data) > 0 {
			return result.data, nil
		}
		if result.err == nil || errors.Is(result.err, io.EOF) {
			if s.isClosed() {
				return nil, &IoError{Selector: s.sel, Op: "read", Err: ErrClosed}
			}
			return nil, ErrEmpty
		}
		if s.isClosed() {
			return nil, &IoError{Selector: s.sel, Op: "read", Err: ErrClosed}
		}
		s.logger.Error("Serial read failed", zap.Error(result.err))
		return nil, &IoError{Selector: s.sel, Op: "read", Err: fmt.Errorf("failed to read from serial port: %w", result.err)}

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *tarmSerial) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.port.Close(); err != nil {
		s.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	s.logger.Info("Serial port closed successfully")
	return nil
}

func (s *tarmSerial) Info() Info {
	return Info{
		Kind:     KindSerial,
		Address:  s.sel.Address,
		Driver:   "tarm",
		BaudRate: s.settings.BaudRate,
	}
}

func (s *tarmSerial) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

func tarmConfig(name string, settings Settings) (*serial.Config, error) {
	if settings.DataBits < 5 || settings.DataBits > 8 {
		return nil, fmt.Errorf("unsupported data bits: %d", settings.DataBits)
	}
	if settings.FlowControl != "" && settings.FlowControl != FlowControlNone {
		return nil, fmt.Errorf("unsupported flow control: %q", settings.FlowControl)
	}

	cfg := &serial.Config{
		Name:        name,
		Baud:        settings.BaudRate,
		ReadTimeout: settings.ReadTimeout,
		Size:        byte(settings.DataBits),
	}

	switch settings.Parity {
	case "none":
		cfg.Parity = serial.ParityNone
	case "odd":
		cfg.Parity = serial.ParityOdd
	case "even":
		cfg.Parity = serial.ParityEven
	case "mark":
		cfg.Parity = serial.ParityMark
	case "space":
		cfg.Parity = serial.ParitySpace
	default:
		return nil, fmt.Errorf("unsupported parity: %q", settings.Parity)
	}

	switch settings.StopBits {
	case "1":
		cfg.StopBits = serial.Stop1
	case "1.5":
		cfg.StopBits = serial.Stop1Half
	case "2":
		cfg.StopBits = serial.Stop2
	default:
		return nil, fmt.Errorf("unsupported stop bits: %q", settings.StopBits)
	}

	return cfg, nil
}
