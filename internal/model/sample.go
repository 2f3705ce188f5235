// internal/model/sample.go
package model

// ChannelID identifies one data series. Positional channels use their decimal
// column index ("0", "1", ...), named channels use the name seen in the stream.
type ChannelID string

// ChannelValue is one (channel, value) pair of a decoded record
type ChannelValue struct {
	Channel ChannelID `json:"channel"`
	Value   float64   `json:"value"`
}

// SampleRecord is one decoded frame of multi-channel sample data.
// Sequence is assigned by the decoder and only advances for accepted records.
type SampleRecord struct {
	Sequence uint64         `json:"sequence"`
	Values   []ChannelValue `json:"values"`
}

// Point is one stored (sequence, value) pair of a channel series
type Point struct {
	Sequence uint64  `json:"sequence"`
	Value    float64 `json:"value"`
}

// Series is a named copy of a channel's bounded history
type Series struct {
	Channel ChannelID `json:"channel"`
	Points  []Point   `json:"points"`
}
