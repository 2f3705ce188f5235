package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/metric"
	"acquisition-service/internal/model"
	"acquisition-service/internal/transport"
)

// fakeTransport hands out scripted chunks and blocks in ReadChunk until one
// arrives, the context is done or it is closed
type fakeTransport struct {
	chunks chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chunks: make(chan []byte, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-f.chunks:
		return chunk, nil
	case err := <-f.fail:
		return nil, err
	case <-f.closed:
		return nil, &transport.IoError{Op: "read", Err: transport.ErrClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Info() transport.Info {
	return transport.Info{Kind: "fake", Address: "fake"}
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeOpener returns the queued transports in order, or err when set
type fakeOpener struct {
	mutex      sync.Mutex
	transports []*fakeTransport
	opened     []transport.Selector
	err        error
}

func (o *fakeOpener) open(_ context.Context, sel transport.Selector, _ transport.Settings) (transport.Transport, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.opened = append(o.opened, sel)
	if o.err != nil {
		return nil, &transport.ConnectionError{Selector: sel, Op: "busy", Err: o.err}
	}
	tr := o.transports[0]
	o.transports = o.transports[1:]
	return tr, nil
}

type recordingSink struct {
	mutex  sync.Mutex
	events []model.EventType
}

func (r *recordingSink) Publish(event model.AcquisitionEvent) {
	r.mutex.Lock()
	r.events = append(r.events, event.EventType)
	r.mutex.Unlock()
}

func (r *recordingSink) types() []model.EventType {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]model.EventType(nil), r.events...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.Store.Capacity = 16
	return &cfg
}

func newTestService(t *testing.T, opener *fakeOpener) (*AcquisitionService, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	svc := NewAcquisitionService(testConfig(t), opener.open, nil, sink, zap.NewNop())
	t.Cleanup(func() { svc.Disconnect() })
	return svc, sink
}

func positionalRequest() *model.ConnectRequest {
	return &model.ConnectRequest{
		Selector:        "/dev/ttyFAKE0",
		FieldSeparators: ",",
		ChannelNaming:   model.ChannelNamingPositional,
	}
}

// waitRecords waits until the service decoded n records
func waitRecords(t *testing.T, svc *AcquisitionService, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.Status().RecordsDecoded >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectIngestsRecords(t *testing.T) {
	tr := newFakeTransport()
	opener := &fakeOpener{transports: []*fakeTransport{tr}}
	svc, sink := newTestService(t, opener)

	status, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionStateConnected, status.State)
	assert.NotNil(t, status.SessionID)
	assert.Equal(t, "serial:///dev/ttyFAKE0", status.Selector)

	tr.chunks <- []byte("1,2\n3,")
	tr.chunks <- []byte("x\n5,6\n")
	waitRecords(t, svc, 2)

	status = svc.Status()
	assert.Equal(t, int64(1), status.DecodeErrors)
	assert.Equal(t, int64(12), status.BytesReceived)
	assert.Equal(t, 2, status.Channels)

	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Equal(t, []model.Point{{Sequence: 0, Value: 1}, {Sequence: 1, Value: 5}}, points)

	all := svc.SnapshotAll()
	assert.Len(t, all, 2)
	assert.Equal(t, []model.ChannelID{"0", "1"}, svc.Channels())
	assert.Equal(t, []string{"1,2", "3,x", "5,6"}, svc.MonitorLines())

	assert.Equal(t, []model.EventType{
		model.EventConnecting,
		model.EventConnected,
		model.EventChannelDiscovered,
	}, sink.types())
}

func TestDisconnectWhileReadPending(t *testing.T) {
	tr := newFakeTransport()
	svc, _ := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	_, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	tr.chunks <- []byte("1,2\n")
	waitRecords(t, svc, 1)

	// The loop is now blocked in ReadChunk with nothing to read
	done := make(chan model.Status)
	go func() { done <- svc.Disconnect() }()

	select {
	case status := <-done:
		assert.Equal(t, model.ConnectionStateDisconnected, status.State)
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not return")
	}

	assert.True(t, tr.isClosed())
	points, ok := svc.Snapshot("0")
	require.True(t, ok, "history survives a disconnect")
	assert.Len(t, points, 1)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	svc, sink := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	assert.Equal(t, model.ConnectionStateDisconnected, svc.Disconnect().State)

	_, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, model.ConnectionStateDisconnected, svc.Disconnect().State)
	}

	disconnects := 0
	for _, e := range sink.types() {
		if e == model.EventDisconnected {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)
}

func TestReconnectRestartsSession(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	svc, _ := newTestService(t, &fakeOpener{transports: []*fakeTransport{first, second}})

	status, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	firstID := *status.SessionID

	first.chunks <- []byte("1\n2\n3\n")
	waitRecords(t, svc, 3)

	status, err = svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	assert.NotEqual(t, firstID, *status.SessionID)
	assert.True(t, first.isClosed(), "the previous transport is closed")
	assert.Empty(t, svc.SnapshotAll(), "history starts empty")
	assert.Equal(t, int64(0), status.RecordsDecoded)
	assert.Empty(t, svc.MonitorLines())

	second.chunks <- []byte("9\n")
	waitRecords(t, svc, 1)

	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Equal(t, []model.Point{{Sequence: 0, Value: 9}}, points)
}

func TestIoErrorKeepsHistory(t *testing.T) {
	tr := newFakeTransport()
	svc, sink := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	_, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	tr.chunks <- []byte("1\n")
	waitRecords(t, svc, 1)

	tr.fail <- &transport.IoError{Op: "read", Err: errors.New("device unplugged")}

	require.Eventually(t, func() bool {
		return svc.Status().State == model.ConnectionStateError
	}, 2*time.Second, 5*time.Millisecond)

	status := svc.Status()
	assert.Contains(t, status.Detail, "device unplugged")
	assert.True(t, tr.isClosed())
	assert.Contains(t, sink.types(), model.EventIOError)

	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Len(t, points, 1)

	assert.Equal(t, model.ConnectionStateDisconnected, svc.Disconnect().State)
}

func TestConnectFailure(t *testing.T) {
	opener := &fakeOpener{err: errors.New("port busy")}
	svc, sink := newTestService(t, opener)

	status, err := svc.Connect(context.Background(), positionalRequest())
	require.Error(t, err)
	assert.True(t, transport.IsConnectionError(err))
	assert.Equal(t, model.ConnectionStateError, status.State)
	assert.Contains(t, status.Detail, "port busy")
	assert.Len(t, opener.opened, 1, "no retry")
	assert.Contains(t, sink.types(), model.EventConnectionError)
}

func TestConnectRejectsInvalidRequest(t *testing.T) {
	opener := &fakeOpener{}
	svc, _ := newTestService(t, opener)

	requests := map[string]*model.ConnectRequest{
		"nil":            nil,
		"empty selector": {},
		"bad scheme":     {Selector: "ftp://x"},
		"bad framing":    {Selector: "dummy", Framing: "morse"},
		"bad naming":     {Selector: "dummy", ChannelNaming: "guess"},
		"negative baud":  {Selector: "dummy", BaudRate: -1},
		"data bits":      {Selector: "dummy", DataBits: 9},
		"parity":         {Selector: "/dev/ttyUSB0", Parity: "maybe"},
		"stop bits":      {Selector: "/dev/ttyUSB0", StopBits: "3"},
		"flow control":   {Selector: "/dev/ttyUSB0", FlowControl: "xon"},
		"hardware flow":  {Selector: "/dev/ttyUSB0", FlowControl: "hardware"},
		"web serial 1.5": {Selector: "webserial://0", StopBits: "1.5"},
		"huge capacity":  {Selector: "dummy", Capacity: MaxCapacity + 1},
		"many channels":  {Selector: "dummy", MaxChannels: MaxChannels + 1},
		"read timeout":   {Selector: "dummy", ReadTimeoutMs: -1},
	}
	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Connect(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Empty(t, opener.opened)
	assert.Equal(t, model.ConnectionStateDisconnected, svc.Status().State)
}

func TestConnectCapacity(t *testing.T) {
	tr := newFakeTransport()
	svc, _ := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	req := positionalRequest()
	req.Capacity = 2
	status, err := svc.Connect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Capacity)

	tr.chunks <- []byte("1\n2\n3\n")
	waitRecords(t, svc, 3)

	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Equal(t, []model.Point{{Sequence: 1, Value: 2}, {Sequence: 2, Value: 3}}, points)
}

func TestConnectPassesFlowControl(t *testing.T) {
	var got transport.Settings
	opener := func(_ context.Context, _ transport.Selector, settings transport.Settings) (transport.Transport, error) {
		got = settings
		return newFakeTransport(), nil
	}
	svc := NewAcquisitionService(testConfig(t), opener, nil, nil, zap.NewNop())
	t.Cleanup(func() { svc.Disconnect() })

	_, err := svc.Connect(context.Background(), &model.ConnectRequest{
		Selector:    "webserial://0",
		FlowControl: "hardware",
		Parity:      "even",
	})
	require.NoError(t, err)
	assert.Equal(t, "hardware", got.FlowControl)
	assert.Equal(t, "even", got.Parity)
}

func TestChannelLimitDropsRecords(t *testing.T) {
	tr := newFakeTransport()
	svc, _ := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	req := positionalRequest()
	req.MaxChannels = 2
	status, err := svc.Connect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, status.MaxChannels)

	tr.chunks <- []byte("1,2,3\n4,5\n")
	waitRecords(t, svc, 1)

	status = svc.Status()
	assert.Equal(t, int64(1), status.RecordsDecoded)
	assert.Equal(t, int64(1), status.DecodeErrors)
	assert.Equal(t, []model.ChannelID{"0", "1"}, svc.Channels())

	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Equal(t, []model.Point{{Sequence: 1, Value: 4}}, points)
}

// A read loop that outlives its session must not write into the next one.
func TestStaleSessionIsDropped(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	svc, _ := newTestService(t, &fakeOpener{transports: []*fakeTransport{first, second}})

	_, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	svc.mutex.RLock()
	stale := svc.session
	svc.mutex.RUnlock()

	_, err = svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)

	svc.ingestChunk(stale, []byte("7\n8\n"))

	assert.Empty(t, svc.SnapshotAll())
	assert.Empty(t, svc.MonitorLines())
	status := svc.Status()
	assert.Equal(t, int64(0), status.RecordsDecoded)
	assert.Equal(t, int64(0), status.BytesReceived)

	second.chunks <- []byte("9\n")
	waitRecords(t, svc, 1)
	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Equal(t, []model.Point{{Sequence: 0, Value: 9}}, points)
}

func TestResetKeepsSession(t *testing.T) {
	tr := newFakeTransport()
	svc, sink := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	_, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	tr.chunks <- []byte("1\n")
	waitRecords(t, svc, 1)

	status := svc.Reset()
	assert.Equal(t, model.ConnectionStateConnected, status.State)
	assert.Empty(t, svc.SnapshotAll())
	assert.Empty(t, svc.MonitorLines())
	assert.Contains(t, sink.types(), model.EventHistoryCleared)

	tr.chunks <- []byte("2\n")
	waitRecords(t, svc, 2)
	points, ok := svc.Snapshot("0")
	require.True(t, ok)
	assert.Equal(t, []model.Point{{Sequence: 1, Value: 2}}, points)
}

func TestFramingOverflowIsReported(t *testing.T) {
	tr := newFakeTransport()
	svc, sink := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	req := positionalRequest()
	req.MaxPending = 4
	_, err := svc.Connect(context.Background(), req)
	require.NoError(t, err)

	tr.chunks <- []byte("123456")
	tr.chunks <- []byte("\n7\n")
	waitRecords(t, svc, 1)

	assert.Equal(t, int64(1), svc.Status().FramingOverflows)
	assert.Contains(t, sink.types(), model.EventFramingOverflow)
}

func TestServiceMetrics(t *testing.T) {
	m, err := metric.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	tr := newFakeTransport()
	opener := &fakeOpener{transports: []*fakeTransport{tr}}
	svc := NewAcquisitionService(testConfig(t), opener.open, m, nil, zap.NewNop())
	defer svc.Disconnect()

	_, err = svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)
	tr.chunks <- []byte("1\nx\n")
	waitRecords(t, svc, 1)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DecodeErrors) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDecoded))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues(string(model.ConnectionStateConnected))))
}

func TestShutdown(t *testing.T) {
	tr := newFakeTransport()
	svc, _ := newTestService(t, &fakeOpener{transports: []*fakeTransport{tr}})

	_, err := svc.Connect(context.Background(), positionalRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, model.ConnectionStateDisconnected, svc.Status().State)
}

func TestDummyEndToEnd(t *testing.T) {
	svc := NewAcquisitionService(testConfig(t), transport.Open, nil, nil, zap.NewNop())
	defer svc.Disconnect()

	_, err := svc.Connect(context.Background(), &model.ConnectRequest{Selector: "dummy"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(svc.Channels()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []model.ChannelID{"square", "sin_1", "sin_2"}, svc.Channels())
}
