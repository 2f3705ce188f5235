// internal/decoder/decoder.go
package decoder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"acquisition-service/internal/model"
)

const (
	DefaultFieldSeparators = ", \t"
	DefaultDelimiter       = "\n"
	DefaultMaxPending      = 4096
)

// ErrFramingOverflow is returned by Feed when the pending tail grew past the
// limit without a record boundary and was discarded. It is not fatal.
var ErrFramingOverflow = errors.New("pending bytes exceeded the limit without a record delimiter")

// Config selects the framing and naming of a decoder
type Config struct {
	Framing         model.FramingMode
	FieldSeparators string
	Delimiter       string
	ChannelNaming   model.ChannelNaming
	MaxPending      int
}

// DefaultConfig returns newline-delimited text with named channels
func DefaultConfig() Config {
	return Config{
		Framing:         model.FramingText,
		FieldSeparators: DefaultFieldSeparators,
		Delimiter:       DefaultDelimiter,
		ChannelNaming:   model.ChannelNamingNamed,
		MaxPending:      DefaultMaxPending,
	}
}

// Stats are the decoder counters of the current session
type Stats struct {
	BytesFed         int64
	RecordsDecoded   int64
	DecodeErrors     int64
	FramingOverflows int64
}

// Option configures a Decoder
type Option func(*Decoder)

// WithLogger sets the logger used for rejected records
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger.With(zap.String("component", "decoder"))
	}
}

// WithLineHook calls hook with every complete non-empty text record, accepted or not
func WithLineHook(hook func(line string)) Option {
	return func(d *Decoder) {
		d.lineHook = hook
	}
}

// Decoder converts arbitrarily split chunks of a byte stream into sample
// records. Records are identical however the stream is chunked.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	framer     Framer
	codec      Codec
	textual    bool
	maxPending int

	pending  []byte
	sequence uint64
	stats    Stats

	logger   *zap.Logger
	lineHook func(string)
}

// New creates a decoder for cfg. Zero fields of cfg take their defaults.
func New(cfg Config, opts ...Option) (*Decoder, error) {
	d := &Decoder{
		maxPending: cfg.MaxPending,
		logger:     zap.NewNop(),
	}
	if d.maxPending <= 0 {
		d.maxPending = DefaultMaxPending
	}

	switch cfg.Framing {
	case model.FramingText, "":
		delimiter, err := UnescapeDelimiter(cfg.Delimiter)
		if err != nil {
			return nil, err
		}
		switch cfg.ChannelNaming {
		case "", model.ChannelNamingPositional, model.ChannelNamingNamed, model.ChannelNamingHeader:
		default:
			return nil, fmt.Errorf("unknown channel naming %q", cfg.ChannelNaming)
		}
		d.framer = NewDelimitedFramer([]byte(delimiter))
		d.codec = NewTextCodec(cfg.FieldSeparators, cfg.ChannelNaming)
		d.textual = true
	case model.FramingBinary:
		d.framer = LengthPrefixedFramer{}
		d.codec = Float32Codec{}
	default:
		return nil, fmt.Errorf("unknown framing %q", cfg.Framing)
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Feed appends chunk to the pending tail and returns the records completed by it.
// Rejected records are counted in Stats and skipped. When the remaining tail
// is longer than the limit it is discarded and ErrFramingOverflow is returned
// together with the records decoded before the discard.
func (d *Decoder) Feed(chunk []byte) ([]model.SampleRecord, error) {
	d.stats.BytesFed += int64(len(chunk))
	d.pending = append(d.pending, chunk...)

	var records []model.SampleRecord
	offset := 0
	for offset < len(d.pending) {
		frame, consumed, err := d.framer.Next(d.pending[offset:])
		if consumed == 0 {
			break
		}
		offset += consumed

		if err != nil {
			d.reject(err, nil)
			continue
		}
		if frame == nil {
			continue
		}

		if record, ok := d.decode(frame); ok {
			records = append(records, record)
		}
	}

	// Keep the unconsumed tail at the front of the buffer
	remaining := copy(d.pending, d.pending[offset:])
	d.pending = d.pending[:remaining]

	if len(d.pending) > d.maxPending {
		d.logger.Warn("Discarding pending bytes without a record delimiter",
			zap.Int("pending_bytes", len(d.pending)),
			zap.Int("max_pending", d.maxPending),
		)
		d.pending = d.pending[:0]
		d.stats.FramingOverflows++
		return records, ErrFramingOverflow
	}

	return records, nil
}

// decode turns one frame into a record, assigning the next sequence index
func (d *Decoder) decode(frame []byte) (model.SampleRecord, bool) {
	if d.textual && d.lineHook != nil {
		if line := strings.TrimSpace(string(frame)); line != "" {
			d.lineHook(line)
		}
	}

	values, err := d.codec.Decode(frame)
	if err != nil {
		d.reject(err, frame)
		return model.SampleRecord{}, false
	}
	if len(values) == 0 {
		return model.SampleRecord{}, false
	}

	record := model.SampleRecord{Sequence: d.sequence, Values: values}
	d.sequence++
	d.stats.RecordsDecoded++
	return record, true
}

func (d *Decoder) reject(err error, frame []byte) {
	d.stats.DecodeErrors++
	if ce := d.logger.Check(zap.DebugLevel, "Rejected record"); ce != nil {
		fields := []zap.Field{zap.Error(err), zap.Int64("decode_errors", d.stats.DecodeErrors)}
		if frame != nil {
			if d.textual {
				fields = append(fields, zap.String("record", string(frame)))
			} else {
				fields = append(fields, zap.Binary("record", frame))
			}
		}
		ce.Write(fields...)
	}
}

// Reset clears the pending tail, the sequence counter, the stats and any header row
func (d *Decoder) Reset() {
	d.pending = d.pending[:0]
	d.sequence = 0
	d.stats = Stats{}
	d.codec.Reset()
}

// Stats returns the counters since creation or the last Reset
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Pending returns the number of buffered bytes not yet part of a record
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// NextSequence returns the index the next accepted record will get
func (d *Decoder) NextSequence() uint64 {
	return d.sequence
}

// UnescapeDelimiter turns an escaped delimiter such as `\r\n` into its bytes.
// Text without backslashes is returned unchanged.
func UnescapeDelimiter(delimiter string) (string, error) {
	if delimiter == "" {
		return DefaultDelimiter, nil
	}
	if !strings.Contains(delimiter, `\`) {
		return delimiter, nil
	}
	unquoted, err := strconv.Unquote(`"` + strings.ReplaceAll(delimiter, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("invalid delimiter %q: %w", delimiter, err)
	}
	return unquoted, nil
}
