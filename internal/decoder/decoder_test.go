package decoder

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/internal/model"
)

func newDecoder(t *testing.T, cfg Config, opts ...Option) *Decoder {
	t.Helper()
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	return d
}

func positionalConfig() Config {
	cfg := DefaultConfig()
	cfg.FieldSeparators = ","
	cfg.ChannelNaming = model.ChannelNamingPositional
	return cfg
}

// series collects the records into per-channel value lists
func series(records []model.SampleRecord) map[model.ChannelID][]float64 {
	out := make(map[model.ChannelID][]float64)
	for _, r := range records {
		for _, v := range r.Values {
			out[v.Channel] = append(out[v.Channel], v.Value)
		}
	}
	return out
}

func TestFeedRejectsMalformedRecord(t *testing.T) {
	d := newDecoder(t, positionalConfig())

	records, err := d.Feed([]byte("1,2\n3,x\n5,6\n"))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, uint64(0), records[0].Sequence)
	assert.Equal(t, uint64(1), records[1].Sequence)
	assert.Equal(t, map[model.ChannelID][]float64{
		"0": {1, 5},
		"1": {2, 6},
	}, series(records))
	assert.Equal(t, int64(1), d.Stats().DecodeErrors)
	assert.Equal(t, int64(2), d.Stats().RecordsDecoded)
	assert.Equal(t, 0, d.Pending())
}

func TestFeedKeepsPartialTail(t *testing.T) {
	d := newDecoder(t, positionalConfig())

	records, err := d.Feed([]byte("1,2\n3,"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, d.Pending())

	records, err = d.Feed([]byte("4\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, []model.ChannelValue{{Channel: "0", Value: 3}, {Channel: "1", Value: 4}}, records[0].Values)
	assert.Equal(t, 0, d.Pending())
}

func TestFeedIsIndependentOfChunking(t *testing.T) {
	streams := map[string]struct {
		cfg    Config
		stream []byte
	}{
		"positional": {
			cfg:    positionalConfig(),
			stream: []byte("1,2\n3,x\n\n5,6\n-7.5,1e3\n8"),
		},
		"named crlf": {
			cfg:    DefaultConfig(),
			stream: []byte("a=1, b=2\r\nc=3\r\n\r\nbad=\r\n4 5\r\n"),
		},
		"header": {
			cfg: Config{
				FieldSeparators: ",",
				ChannelNaming:   model.ChannelNamingHeader,
			},
			stream: []byte("x,y\n1,2\n3,4,5\n"),
		},
		"binary": {
			cfg:    Config{Framing: model.FramingBinary},
			stream: binaryStream(t),
		},
	}

	for name, tc := range streams {
		t.Run(name, func(t *testing.T) {
			whole := newDecoder(t, tc.cfg)
			want, err := whole.Feed(tc.stream)
			require.NoError(t, err)
			require.NotEmpty(t, want)

			for split := 0; split <= len(tc.stream); split++ {
				d := newDecoder(t, tc.cfg)
				first, err := d.Feed(tc.stream[:split])
				require.NoError(t, err)
				second, err := d.Feed(tc.stream[split:])
				require.NoError(t, err)

				assert.Equal(t, want, append(first, second...), "split at %d", split)
				assert.Equal(t, whole.Stats().DecodeErrors, d.Stats().DecodeErrors, "split at %d", split)
			}

			// One byte at a time
			d := newDecoder(t, tc.cfg)
			var got []model.SampleRecord
			for i := range tc.stream {
				records, err := d.Feed(tc.stream[i : i+1])
				require.NoError(t, err)
				got = append(got, records...)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestFeedEmptySegments(t *testing.T) {
	d := newDecoder(t, DefaultConfig())

	records, err := d.Feed([]byte("\n\n  \n\t\n,,\n"))
	require.NoError(t, err)

	assert.Empty(t, records)
	assert.Equal(t, int64(0), d.Stats().DecodeErrors)
	assert.Equal(t, uint64(0), d.NextSequence())
}

func TestFeedFramingOverflow(t *testing.T) {
	cfg := positionalConfig()
	cfg.MaxPending = 8
	d := newDecoder(t, cfg)

	records, err := d.Feed([]byte("1,2\n123456789"))
	assert.ErrorIs(t, err, ErrFramingOverflow)
	require.Len(t, records, 1, "records before the discard are kept")
	assert.Equal(t, int64(1), d.Stats().FramingOverflows)
	assert.Equal(t, 0, d.Pending())

	// Decoding resumes with the next bytes
	records, err = d.Feed([]byte("\n7,8\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, int64(1), d.Stats().FramingOverflows)
}

func TestFeedOverflowCountedOncePerDiscard(t *testing.T) {
	cfg := positionalConfig()
	cfg.MaxPending = 4
	d := newDecoder(t, cfg)

	overflows := 0
	for i := 0; i < 3; i++ {
		if _, err := d.Feed([]byte("abcdef")); err != nil {
			overflows++
		}
	}
	assert.Equal(t, 3, overflows)
	assert.Equal(t, int64(3), d.Stats().FramingOverflows)

	_, err := d.Feed([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, int64(3), d.Stats().FramingOverflows)
}

func TestTailAtLimitIsKept(t *testing.T) {
	cfg := positionalConfig()
	cfg.MaxPending = 4
	d := newDecoder(t, cfg)

	_, err := d.Feed([]byte("1234"))
	require.NoError(t, err)
	assert.Equal(t, 4, d.Pending())
}

func TestNamedChannels(t *testing.T) {
	d := newDecoder(t, DefaultConfig())

	records, err := d.Feed([]byte("square=1, sin_1=0.5, sin_2=-0.25\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []model.ChannelValue{
		{Channel: "square", Value: 1},
		{Channel: "sin_1", Value: 0.5},
		{Channel: "sin_2", Value: -0.25},
	}, records[0].Values)

	// Unnamed fields fall back to their column
	records, err = d.Feed([]byte("a=1 2\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []model.ChannelValue{{Channel: "a", Value: 1}, {Channel: "1", Value: 2}}, records[0].Values)

	_, err = d.Feed([]byte("=1\na=1,a=2\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Stats().DecodeErrors)
}

func TestHeaderChannels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChannelNaming = model.ChannelNamingHeader
	d := newDecoder(t, cfg)

	records, err := d.Feed([]byte("\nvoltage current\n3.3 0.1\n5 0.2 9\n"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(0), records[0].Sequence)
	assert.Equal(t, map[model.ChannelID][]float64{
		"voltage": {3.3, 5},
		"current": {0.1, 0.2},
		"2":       {9},
	}, series(records))

	d.Reset()
	records, err = d.Feed([]byte("a b\n1 2\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.ChannelID("a"), records[0].Values[0].Channel)
}

func TestCustomDelimiter(t *testing.T) {
	cfg := positionalConfig()
	cfg.Delimiter = `\r\n`
	d := newDecoder(t, cfg)

	records, err := d.Feed([]byte("1,2\r\n3,4\n5\r\n"))
	require.NoError(t, err)
	require.Len(t, records, 1, "a bare newline is not a delimiter")
	assert.Equal(t, int64(1), d.Stats().DecodeErrors)

	cfg.Delimiter = ";"
	d = newDecoder(t, cfg)
	records, err = d.Feed([]byte("1,2;3,4;"))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestLineHook(t *testing.T) {
	var lines []string
	d := newDecoder(t, DefaultConfig(), WithLineHook(func(line string) {
		lines = append(lines, line)
	}))

	_, err := d.Feed([]byte("a=1\r\n\nnot a number\nb=2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1", "not a number"}, lines)
}

func TestReset(t *testing.T) {
	d := newDecoder(t, positionalConfig())
	_, err := d.Feed([]byte("1\n2\nx\n3"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), d.NextSequence())

	d.Reset()

	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, uint64(0), d.NextSequence())
	assert.Equal(t, Stats{}, d.Stats())

	records, err := d.Feed([]byte("4\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(0), records[0].Sequence)
}

func TestBinaryFraming(t *testing.T) {
	d := newDecoder(t, Config{Framing: model.FramingBinary})

	records, err := d.Feed(binaryStream(t))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []model.ChannelValue{{Channel: "0", Value: 1.5}, {Channel: "1", Value: -2}}, records[0].Values)
	assert.Equal(t, []model.ChannelValue{{Channel: "0", Value: 0.25}}, records[1].Values)
	assert.Equal(t, uint64(1), records[1].Sequence)
	// the corrupted frame and the odd-sized payload
	assert.Equal(t, int64(2), d.Stats().DecodeErrors)
}

func TestNewRejectsUnknownModes(t *testing.T) {
	_, err := New(Config{Framing: "morse"})
	assert.Error(t, err)

	_, err = New(Config{ChannelNaming: "guess"})
	assert.Error(t, err)

	_, err = New(Config{Delimiter: `\q`})
	assert.Error(t, err)
}

func TestUnescapeDelimiter(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "", want: "\n"},
		{in: `\n`, want: "\n"},
		{in: `\r\n`, want: "\r\n"},
		{in: ";", want: ";"},
		{in: `\t`, want: "\t"},
		{in: "\n", want: "\n"},
		{in: `\x00`, want: "\x00"},
		{in: `a"b\n`, want: "a\"b\n"},
	}
	for _, tt := range tests {
		got, err := UnescapeDelimiter(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// binaryStream holds noise, a good frame, a corrupted frame, an odd-sized
// payload and another good frame
func binaryStream(t *testing.T) []byte {
	t.Helper()

	good1, err := EncodeFrame(EncodeFloat32(1.5, -2))
	require.NoError(t, err)
	corrupt, err := EncodeFrame(EncodeFloat32(9))
	require.NoError(t, err)
	corrupt[len(corrupt)-1] ^= 0xFF
	odd, err := EncodeFrame([]byte{1, 2, 3})
	require.NoError(t, err)
	good2, err := EncodeFrame(EncodeFloat32(0.25))
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteString("noise")
	buf.Write(good1)
	buf.Write(corrupt)
	buf.Write(odd)
	buf.Write(good2)
	return buf.Bytes()
}

func TestFeedRejectsHugeExponentQuickly(t *testing.T) {
	d := newDecoder(t, DefaultConfig())

	type result struct {
		records []model.SampleRecord
		err     error
	}
	done := make(chan result, 1)
	go func() {
		records, err := d.Feed([]byte("1e99999999\n2\n"))
		done <- result{records, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Len(t, r.records, 1)
		assert.Equal(t, 2.0, r.records[0].Values[0].Value)
		assert.Equal(t, int64(1), d.Stats().DecodeErrors)
	case <-time.After(2 * time.Second):
		t.Fatal("Feed stalled on a single line")
	}
}

func TestParseNumber(t *testing.T) {
	valid := []struct {
		in   string
		want float64
	}{
		{in: "0", want: 0},
		{in: "-1", want: -1},
		{in: "+2.5", want: 2.5},
		{in: "1e3", want: 1000},
		{in: "-4.2E-1", want: -0.42},
		{in: "007", want: 7},
	}
	for _, tt := range valid {
		got, err := ParseNumber(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-12, tt.in)
	}

	for _, in := range []string{"", "x", "NaN", "Inf", "-inf", "0x10", "1_000", "1,5", "1e400", "1e99999999", "1e-99999999", "-1e-401"} {
		_, err := ParseNumber(in)
		assert.Error(t, err, in)
	}
}
