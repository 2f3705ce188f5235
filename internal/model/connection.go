// internal/model/connection.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionState represents the acquisition connection lifecycle
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "DISCONNECTED"
	ConnectionStateConnecting   ConnectionState = "CONNECTING"
	ConnectionStateConnected    ConnectionState = "CONNECTED"
	ConnectionStateError        ConnectionState = "ERROR"
)

// IsActive reports whether a session is opening or running
func (s ConnectionState) IsActive() bool {
	return s == ConnectionStateConnecting || s == ConnectionStateConnected
}

// FramingMode selects how the byte stream is split into records
type FramingMode string

const (
	FramingText   FramingMode = "text"
	FramingBinary FramingMode = "binary"
)

// ChannelNaming selects how text fields map to channel identifiers
type ChannelNaming string

const (
	// ChannelNamingPositional names every field by its column index
	ChannelNamingPositional ChannelNaming = "positional"
	// ChannelNamingNamed reads "name=value" fields and falls back to the column index
	ChannelNamingNamed ChannelNaming = "named"
	// ChannelNamingHeader takes channel names from the first row of a session
	ChannelNamingHeader ChannelNaming = "header"
)

// ConnectRequest is the connect command. Zero values fall back to configured defaults.
type ConnectRequest struct {
	Selector string `json:"selector" binding:"required"`

	// Serial line settings
	Driver        string `json:"driver,omitempty"`
	BaudRate      int    `json:"baud_rate,omitempty"`
	DataBits      int    `json:"data_bits,omitempty"`
	Parity        string `json:"parity,omitempty"`
	StopBits      string `json:"stop_bits,omitempty"`
	FlowControl   string `json:"flow_control,omitempty"`
	ReadTimeoutMs int    `json:"read_timeout_ms,omitempty"`

	// Framing settings
	Framing         FramingMode   `json:"framing,omitempty"`
	FieldSeparators string        `json:"field_separators,omitempty"`
	Delimiter       string        `json:"delimiter,omitempty"`
	ChannelNaming   ChannelNaming `json:"channel_naming,omitempty"`
	MaxPending      int           `json:"max_pending,omitempty"`

	// Capacity is the ring-buffer size per channel
	Capacity int `json:"capacity,omitempty"`
	// MaxChannels bounds how many channels a session may create
	MaxChannels int `json:"max_channels,omitempty"`
}

// Status is the read-only status feed consumed by the UI
type Status struct {
	State            ConnectionState `json:"state"`
	Detail           string          `json:"detail,omitempty"`
	Selector         string          `json:"selector,omitempty"`
	SessionID        *uuid.UUID      `json:"session_id,omitempty"`
	ConnectedAt      *time.Time      `json:"connected_at,omitempty"`
	BytesReceived    int64           `json:"bytes_received"`
	RecordsDecoded   int64           `json:"records_decoded"`
	DecodeErrors     int64           `json:"decode_errors"`
	FramingOverflows int64           `json:"framing_overflows"`
	Channels         int             `json:"channels"`
	MaxChannels      int             `json:"max_channels"`
	Capacity         int             `json:"capacity"`
}
