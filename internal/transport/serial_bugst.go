//go:build !js

// internal/transport/serial_bugst.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// bugstSerial reads a serial port through go.bug.st/serial
type bugstSerial struct {
	sel      Selector
	settings Settings
	port     serial.Port
	logger   *zap.Logger

	mutex  sync.Mutex
	closed bool
}

type readResult struct {
	data []byte
	err  error
}

// OpenBugstSerial opens a serial port with the go.bug.st/serial driver
func OpenBugstSerial(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	settings = settings.withDefaults()
	logger := settings.Logger.With(
		zap.String("transport", "serial"),
		zap.String("driver", "bugst"),
		zap.String("port", sel.Address),
	)

	mode, err := bugstMode(settings)
	if err != nil {
		return nil, &ConnectionError{Selector: sel, Op: "configure", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: err}
	}

	logger.Info("Opening serial port",
		zap.Int("baud_rate", settings.BaudRate),
		zap.Int("data_bits", settings.DataBits),
		zap.String("parity", settings.Parity),
		zap.String("stop_bits", settings.StopBits),
	)

	port, err := serial.Open(sel.Address, mode)
	if err != nil {
		logger.Error("Failed to open serial port", zap.Error(err))
		return nil, &ConnectionError{Selector: sel, Op: bugstOpenOp(err), Err: err}
	}

	if err := port.SetReadTimeout(settings.ReadTimeout); err != nil {
		port.Close()
		return nil, &ConnectionError{Selector: sel, Op: "configure", Err: fmt.Errorf("failed to set read timeout: %w", err)}
	}

	// Drop whatever the device sent before we were listening
	if err := port.ResetInputBuffer(); err != nil {
		logger.Warn("Failed to clear serial input buffer", zap.Error(err))
	}

	logger.Info("Serial port opened successfully")
	return &bugstSerial{
		sel:      sel,
		settings: settings,
		port:     port,
		logger:   logger,
	}, nil
}

// ReadChunk reads up to ReadBufferSize bytes, waiting at most the read timeout
func (s *bugstSerial) ReadChunk(ctx context.Context) ([]byte, error) {
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
		if result.err != nil {
			if s.isClosed() {
				return nil, &IoError{Selector: s.sel, Op: "read", Err: ErrClosed}
			}
			s.logger.Error("Serial read failed", zap.Error(result.err))
			return nil, &IoError{Selector: s.sel, Op: "read", Err: fmt.Errorf("failed to read from serial port: %w", result.err)}
		}
		if len(result.data) == 0 {
			return nil, ErrEmpty
		}
		return result.data, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the port. A pending Read returns with an error.
func (s *bugstSerial) Close() error {
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

func (s *bugstSerial) Info() Info {
	return Info{
		Kind:     KindSerial,
		Address:  s.sel.Address,
		Driver:   "bugst",
		BaudRate: s.settings.BaudRate,
	}
}

func (s *bugstSerial) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// bugstMode translates settings into a serial.Mode
func bugstMode(settings Settings) (*serial.Mode, error) {
	if settings.DataBits < 5 || settings.DataBits > 8 {
		return nil, fmt.Errorf("unsupported data bits: %d", settings.DataBits)
	}
	if settings.FlowControl != "" && settings.FlowControl != FlowControlNone {
		return nil, fmt.Errorf("unsupported flow control: %q", settings.FlowControl)
	}

	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
	}

	switch settings.Parity {
	case "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity: %q", settings.Parity)
	}

	switch settings.StopBits {
	case "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %q", settings.StopBits)
	}

	return mode, nil
}

// bugstOpenOp names the reason an open failed
func bugstOpenOp(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return "open"
	}

	switch portErr.Code() {
	case serial.PortBusy:
		return "busy"
	case serial.PortNotFound:
		return "not found"
	case serial.PermissionDenied:
		return "permission denied"
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits:
		return "invalid settings"
	default:
		return "open"
	}
}
