// internal/decoder/codec.go
package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"acquisition-service/internal/model"
)

// Codec turns one frame into channel values. A nil result with a nil error
// means the frame carried no record.
type Codec interface {
	Decode(frame []byte) ([]model.ChannelValue, error)
	// Reset forgets per-session state such as a header row
	Reset()
}

// DecodeError describes a rejected record
type DecodeError struct {
	Field  int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field < 0 {
		return e.Reason
	}
	return fmt.Sprintf("field %d: %s", e.Field, e.Reason)
}

// TextCodec decodes separator-delimited numeric text
type TextCodec struct {
	separators string
	naming     model.ChannelNaming
	header     []model.ChannelID
}

// NewTextCodec creates a codec splitting fields on any rune of separators
func NewTextCodec(separators string, naming model.ChannelNaming) *TextCodec {
	if separators == "" {
		separators = DefaultFieldSeparators
	}
	if naming == "" {
		naming = model.ChannelNamingNamed
	}
	return &TextCodec{separators: separators, naming: naming}
}

func (c *TextCodec) Reset() {
	c.header = nil
}

func (c *TextCodec) Decode(frame []byte) ([]model.ChannelValue, error) {
	if !utf8.Valid(frame) {
		return nil, &DecodeError{Field: -1, Reason: "record is not valid UTF-8"}
	}

	fields := strings.FieldsFunc(strings.TrimSpace(string(frame)), func(r rune) bool {
		return strings.ContainsRune(c.separators, r)
	})
	if len(fields) == 0 {
		return nil, nil
	}

	if c.naming == model.ChannelNamingHeader && c.header == nil {
		return nil, c.readHeader(fields)
	}

	values := make([]model.ChannelValue, 0, len(fields))
	seen := make(map[model.ChannelID]struct{}, len(fields))
	for i, field := range fields {
		id, text, err := c.split(i, strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			return nil, &DecodeError{Field: i, Reason: fmt.Sprintf("channel %q appears twice", id)}
		}
		seen[id] = struct{}{}

		value, err := ParseNumber(text)
		if err != nil {
			return nil, &DecodeError{Field: i, Reason: err.Error()}
		}
		values = append(values, model.ChannelValue{Channel: id, Value: value})
	}
	return values, nil
}

// split returns the channel and the numeric text of field i
func (c *TextCodec) split(i int, field string) (model.ChannelID, string, error) {
	switch c.naming {
	case model.ChannelNamingNamed:
		if name, text, ok := strings.Cut(field, "="); ok {
			name = strings.TrimSpace(name)
			if name == "" {
				return "", "", &DecodeError{Field: i, Reason: "empty channel name"}
			}
			return model.ChannelID(name), strings.TrimSpace(text), nil
		}
	case model.ChannelNamingHeader:
		if i < len(c.header) {
			return c.header[i], field, nil
		}
	}
	return positional(i), field, nil
}

func (c *TextCodec) readHeader(fields []string) error {
	header := make([]model.ChannelID, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for i, name := range fields {
		name = strings.TrimSpace(name)
		if name == "" {
			return &DecodeError{Field: i, Reason: "empty header name"}
		}
		if _, dup := seen[name]; dup {
			return &DecodeError{Field: i, Reason: fmt.Sprintf("header names channel %q twice", name)}
		}
		seen[name] = struct{}{}
		header = append(header, model.ChannelID(name))
	}
	c.header = header
	return nil
}

// maxExponent bounds the decimal exponent ParseNumber accepts. Anything
// beyond it is outside float64 range, and converting it would be slow.
const maxExponent = 400

// ParseNumber parses a decimal number such as "-1.5" or "2e3".
// NaN, infinities, hex and digit separators are rejected.
func ParseNumber(text string) (float64, error) {
	if text == "" {
		return 0, fmt.Errorf("empty value")
	}
	// decimal only checks the grammar; strconv does the conversion
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", text)
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return 0, fmt.Errorf("number %q is out of range", text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, fmt.Errorf("number %q is out of range", text)
	}
	return f, nil
}

func positional(i int) model.ChannelID {
	return model.ChannelID(strconv.Itoa(i))
}

// Float32Codec decodes a payload of little-endian float32 values, one per channel
type Float32Codec struct{}

func (Float32Codec) Reset() {}

func (Float32Codec) Decode(frame []byte) ([]model.ChannelValue, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	if len(frame)%4 != 0 {
		return nil, &DecodeError{Field: -1, Reason: fmt.Sprintf("payload of %d bytes is not a whole number of float32 values", len(frame))}
	}

	values := make([]model.ChannelValue, 0, len(frame)/4)
	for i := 0; i < len(frame); i += 4 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(frame[i:]))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, &DecodeError{Field: i / 4, Reason: "value is not finite"}
		}
		values = append(values, model.ChannelValue{Channel: positional(i / 4), Value: float64(f)})
	}
	return values, nil
}

// EncodeFloat32 builds a Float32Codec payload
func EncodeFloat32(values ...float32) []byte {
	payload := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(payload[4*i:], math.Float32bits(v))
	}
	return payload
}
