// internal/transport/dummy.go
package transport

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DummyRate is the line rate of the dummy source
const DummyRate = 60

// dummyTransport generates demo lines of one square and two sine channels
type dummyTransport struct {
	sel     Selector
	ticker  *time.Ticker
	started time.Time
	done    chan struct{}
	once    sync.Once
}

// OpenDummy opens a generator that needs no hardware
func OpenDummy(_ context.Context, sel Selector, settings Settings) (Transport, error) {
	settings = settings.withDefaults()
	settings.Logger.Info("Opening dummy transport", zap.Int("rate_hz", DummyRate))

	return &dummyTransport{
		sel:     sel,
		ticker:  time.NewTicker(time.Second / DummyRate),
		started: time.Now(),
		done:    make(chan struct{}),
	}, nil
}

// ReadChunk waits for the next tick and returns one line
func (d *dummyTransport) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-d.done:
		return nil, &IoError{Selector: d.sel, Op: "read", Err: ErrClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	case now := <-d.ticker.C:
		return DummyLine(now.Sub(d.started)), nil
	}
}

func (d *dummyTransport) Close() error {
	d.once.Do(func() {
		d.ticker.Stop()
		close(d.done)
	})
	return nil
}

func (d *dummyTransport) Info() Info {
	return Info{Kind: KindDummy, Address: string(KindDummy)}
}

// DummyLine renders the demo values at elapsed
func DummyLine(elapsed time.Duration) []byte {
	t := elapsed.Seconds()

	square := 0
	if math.Mod(t, 2) >= 1 {
		square = 1
	}

	return []byte(fmt.Sprintf("square=%d, sin_1=%.4f, sin_2=%.4f\n",
		square,
		math.Sin(2*math.Pi*t),
		0.5*math.Sin(2*math.Pi*3*t),
	))
}
