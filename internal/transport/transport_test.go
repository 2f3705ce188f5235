package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		raw     string
		want    Selector
		wantErr bool
	}{
		{raw: "dummy", want: Selector{Kind: KindDummy, Address: "dummy"}},
		{raw: "DUMMY", want: Selector{Kind: KindDummy, Address: "dummy"}},
		{raw: "dummy://", want: Selector{Kind: KindDummy, Address: "dummy"}},
		{raw: "/dev/ttyUSB0", want: Selector{Kind: KindSerial, Address: "/dev/ttyUSB0"}},
		{raw: "COM3", want: Selector{Kind: KindSerial, Address: "COM3"}},
		{raw: "serial:///dev/ttyACM0", want: Selector{Kind: KindSerial, Address: "/dev/ttyACM0"}},
		{raw: "serial://auto", want: Selector{Kind: KindSerial, Address: "auto"}},
		{raw: "tcp://127.0.0.1:4000", want: Selector{Kind: KindTCP, Address: "127.0.0.1:4000"}},
		{raw: "  tcp://bridge.local:23 ", want: Selector{Kind: KindTCP, Address: "bridge.local:23"}},
		{raw: "webserial://1", want: Selector{Kind: KindWebSerial, Address: "1"}},
		{raw: "", wantErr: true},
		{raw: "tcp://no-port", wantErr: true},
		{raw: "serial://", wantErr: true},
		{raw: "udp://127.0.0.1:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSelector(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectorString(t *testing.T) {
	assert.Equal(t, "dummy", Selector{Kind: KindDummy}.String())
	assert.Equal(t, "tcp://h:1", Selector{Kind: KindTCP, Address: "h:1"}.String())
	assert.Equal(t, "serial:///dev/ttyS0", Selector{Kind: KindSerial, Address: "/dev/ttyS0"}.String())
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("device busy")
	sel := Selector{Kind: KindSerial, Address: "/dev/ttyUSB0"}

	var err error = &ConnectionError{Selector: sel, Op: "busy", Err: cause}
	wrapped := fmt.Errorf("connect: %w", err)
	assert.True(t, IsConnectionError(wrapped))
	assert.False(t, IsIoError(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, err.Error(), "busy")

	err = &IoError{Selector: sel, Op: "read", Err: ErrClosed}
	assert.True(t, IsIoError(err))
	assert.False(t, IsConnectionError(err))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()

	assert.Equal(t, 115200, s.BaudRate)
	assert.Equal(t, 8, s.DataBits)
	assert.Equal(t, "none", s.Parity)
	assert.Equal(t, "1", s.StopBits)
	assert.Equal(t, FlowControlNone, s.FlowControl)
	assert.Equal(t, 100*time.Millisecond, s.ReadTimeout)
	assert.Equal(t, 256, s.ReadBufferSize)
	assert.NotNil(t, s.Logger)

	custom := Settings{BaudRate: 9600, ReadBufferSize: 16}.withDefaults()
	assert.Equal(t, 9600, custom.BaudRate)
	assert.Equal(t, 16, custom.ReadBufferSize)
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		settings Settings
		wantErr  string
	}{
		{name: "defaults", kind: KindSerial},
		{name: "serial mark parity", kind: KindSerial, settings: Settings{Parity: "mark", StopBits: "1.5"}},
		{name: "parity", kind: KindSerial, settings: Settings{Parity: "maybe"}, wantErr: "parity"},
		{name: "stop bits", kind: KindTCP, settings: Settings{StopBits: "3"}, wantErr: "stop_bits"},
		{name: "data bits", kind: KindDummy, settings: Settings{DataBits: 9}, wantErr: "data_bits"},
		{name: "flow control", kind: KindDummy, settings: Settings{FlowControl: "xon"}, wantErr: "flow_control"},
		{name: "serial hardware flow", kind: KindSerial, settings: Settings{FlowControl: FlowControlHardware}, wantErr: "native serial"},
		{name: "serial software flow", kind: KindSerial, settings: Settings{FlowControl: FlowControlSoftware}, wantErr: "native serial"},
		{name: "tcp ignores flow", kind: KindTCP, settings: Settings{FlowControl: FlowControlSoftware}},
		{name: "web serial hardware flow", kind: KindWebSerial, settings: Settings{FlowControl: FlowControlHardware}},
		{name: "web serial software flow", kind: KindWebSerial, settings: Settings{FlowControl: FlowControlSoftware}, wantErr: "web serial"},
		{name: "web serial mark parity", kind: KindWebSerial, settings: Settings{Parity: "mark"}, wantErr: "web serial"},
		{name: "web serial 1.5 stop bits", kind: KindWebSerial, settings: Settings{StopBits: "1.5"}, wantErr: "web serial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate(tt.kind)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenUnsupportedKind(t *testing.T) {
	_, err := Open(context.Background(), Selector{Kind: "carrier-pigeon"}, Settings{})
	assert.True(t, IsConnectionError(err))
}
