// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmpty is returned by ReadChunk when a read window passed without data.
// It is not a failure; the caller simply asks again.
var ErrEmpty = errors.New("no data available")

// ErrClosed is wrapped by the IoError returned when reading a closed transport
var ErrClosed = errors.New("transport closed")

// Kind identifies a transport implementation
type Kind string

const (
	KindSerial    Kind = "serial"
	KindTCP       Kind = "tcp"
	KindDummy     Kind = "dummy"
	KindWebSerial Kind = "webserial"
)

// Transport yields raw byte chunks from an opened source
type Transport interface {
	// ReadChunk returns the next bytes received, ErrEmpty when none arrived
	// within the read window, or an *IoError when the source failed.
	ReadChunk(ctx context.Context) ([]byte, error)
	// Close releases the source and unblocks a pending ReadChunk.
	// Calling it more than once is harmless.
	Close() error
	Info() Info
}

// Opener opens a transport for a selector
type Opener func(ctx context.Context, sel Selector, settings Settings) (Transport, error)

// Info describes an open transport
type Info struct {
	Kind     Kind   `json:"kind"`
	Address  string `json:"address"`
	Driver   string `json:"driver,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// Selector identifies a data source
type Selector struct {
	Kind    Kind
	Address string
}

// String returns the canonical selector text
func (s Selector) String() string {
	switch s.Kind {
	case KindDummy:
		return string(KindDummy)
	case KindTCP:
		return "tcp://" + s.Address
	case KindWebSerial:
		return "webserial://" + s.Address
	default:
		return "serial://" + s.Address
	}
}

// ParseSelector parses "dummy", "tcp://host:port", "serial:///dev/ttyUSB0",
// "webserial://" or a bare serial device name such as "/dev/ttyACM0" or "COM3".
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Selector{}, fmt.Errorf("selector is empty")
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		if strings.EqualFold(raw, string(KindDummy)) {
			return Selector{Kind: KindDummy, Address: string(KindDummy)}, nil
		}
		return Selector{Kind: KindSerial, Address: raw}, nil
	}

	switch Kind(strings.ToLower(scheme)) {
	case KindSerial:
		if rest == "" {
			return Selector{}, fmt.Errorf("serial selector %q has no device", raw)
		}
		return Selector{Kind: KindSerial, Address: rest}, nil
	case KindTCP:
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Selector{}, fmt.Errorf("invalid tcp selector %q: %w", raw, err)
		}
		return Selector{Kind: KindTCP, Address: rest}, nil
	case KindWebSerial:
		return Selector{Kind: KindWebSerial, Address: rest}, nil
	case KindDummy:
		return Selector{Kind: KindDummy, Address: string(KindDummy)}, nil
	default:
		return Selector{}, fmt.Errorf("unsupported selector scheme %q", scheme)
	}
}

// Settings are the line settings applied when opening a transport
type Settings struct {
	Driver         string
	BaudRate       int
	DataBits       int
	Parity         string
	StopBits       string
	FlowControl    string
	ReadTimeout    time.Duration
	ReadBufferSize int
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// withDefaults fills zero fields with the usual serial defaults
func (s Settings) withDefaults() Settings {
	if s.BaudRate <= 0 {
		s.BaudRate = 115200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.Parity == "" {
		s.Parity = "none"
	}
	if s.StopBits == "" {
		s.StopBits = "1"
	}
	if s.FlowControl == "" {
		s.FlowControl = FlowControlNone
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 100 * time.Millisecond
	}
	if s.ReadBufferSize <= 0 {
		s.ReadBufferSize = 256
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 5 * time.Second
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	return s
}

// Flow control modes
const (
	FlowControlNone     = "none"
	FlowControlSoftware = "software"
	FlowControlHardware = "hardware"
)

// Validate checks the line settings against what transports of kind can
// apply. Zero values are checked as their defaults.
// Native serial drivers expose no flow control, so only "none" opens there.
// Web Serial has no software flow control. TCP and dummy sources ignore
// the line settings beyond the vocabulary check.
func (s Settings) Validate(kind Kind) error {
	s = s.withDefaults()

	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("data_bits must be between 5 and 8")
	}
	if !oneOf(s.Parity, "none", "odd", "even", "mark", "space") {
		return fmt.Errorf("parity must be one of: [none odd even mark space]")
	}
	if !oneOf(s.StopBits, "1", "1.5", "2") {
		return fmt.Errorf("stop_bits must be one of: [1 1.5 2]")
	}
	if !oneOf(s.FlowControl, FlowControlNone, FlowControlSoftware, FlowControlHardware) {
		return fmt.Errorf("flow_control must be one of: [none software hardware]")
	}

	switch kind {
	case KindSerial:
		if s.FlowControl != FlowControlNone {
			return fmt.Errorf("flow_control %q is not supported by native serial drivers", s.FlowControl)
		}
	case KindWebSerial:
		if !oneOf(s.Parity, "none", "odd", "even") {
			return fmt.Errorf("parity %q is not supported by web serial", s.Parity)
		}
		if s.StopBits == "1.5" {
			return fmt.Errorf("stop_bits %q is not supported by web serial", s.StopBits)
		}
		if s.FlowControl == FlowControlSoftware {
			return fmt.Errorf("flow_control %q is not supported by web serial", s.FlowControl)
		}
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ConnectionError reports a failure to open a transport: the port is busy,
// absent, access was denied or the settings were rejected.
type ConnectionError struct {
	Selector Selector
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Selector, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IoError reports a failure of an open transport, such as an unplugged device
type IoError struct {
	Selector Selector
	Op       string
	Err      error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Selector, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a *ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsIoError reports whether err is or wraps an *IoError
func IsIoError(err error) bool {
	var ie *IoError
	return errors.As(err, &ie)
}

// Open opens the transport named by sel with the default opener set
func Open(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	settings = settings.withDefaults()

	switch sel.Kind {
	case KindDummy:
		return OpenDummy(ctx, sel, settings)
	case KindTCP:
		return OpenTCP(ctx, sel, settings)
	case KindSerial:
		return openSerial(ctx, sel, settings)
	case KindWebSerial:
		return openWebSerial(ctx, sel, settings)
	default:
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: fmt.Errorf("unsupported transport kind %q", sel.Kind)}
	}
}
