// internal/service/acquisition_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/decoder"
	"acquisition-service/internal/metric"
	"acquisition-service/internal/model"
	"acquisition-service/internal/store"
	"acquisition-service/internal/transport"
	"acquisition-service/internal/utils"
)

var (
	// ErrInvalidRequest wraps every rejected connect command
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotConnected is returned by operations that need a running session
	ErrNotConnected = errors.New("not connected")
)

// stopTimeout bounds how long Disconnect waits for the read loop
const stopTimeout = 2 * time.Second

// EventSink receives acquisition status events
type EventSink interface {
	Publish(event model.AcquisitionEvent)
}

// AcquisitionService owns the transport, decoder and channel store of one
// acquisition session and runs the read loop between them
type AcquisitionService struct {
	config  *config.Config
	opener  transport.Opener
	store   *store.ChannelStore
	monitor *store.Monitor
	metrics *metric.Metrics
	sink    EventSink
	logger  *utils.ServiceLogger

	// commandMutex serializes Connect, Disconnect and Shutdown
	commandMutex sync.Mutex

	mutex       sync.RWMutex
	state       model.ConnectionState
	detail      string
	selector    string
	sessionID   *uuid.UUID
	connectedAt *time.Time
	session     *session

	bytesReceived    *atomic.Int64
	recordsDecoded   *atomic.Int64
	decodeErrors     *atomic.Int64
	framingOverflows *atomic.Int64
}

// session is one open transport and the loop reading it
type session struct {
	id        uuid.UUID
	transport transport.Transport
	decoder   *decoder.Decoder
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time
	logger    *utils.ConnectionLogger

	// records dropped at the channel limit, owned by the read loop
	rejected int64
}

// NewAcquisitionService creates a disconnected acquisition service.
// metrics and sink may be nil.
func NewAcquisitionService(
	config *config.Config,
	opener transport.Opener,
	metrics *metric.Metrics,
	sink EventSink,
	logger *zap.Logger,
) *AcquisitionService {
	var storeOpts []store.Option
	if metrics != nil {
		storeOpts = append(storeOpts, store.WithMetrics(metrics))
	}

	return &AcquisitionService{
		config:           config,
		opener:           opener,
		store:            store.NewChannelStore(config.Store.Capacity, append(storeOpts, store.WithMaxChannels(config.Store.MaxChannels))...),
		monitor:          store.NewMonitor(config.Store.MonitorLines),
		metrics:          metrics,
		sink:             sink,
		logger:           utils.NewServiceLogger(logger, "acquisition-service"),
		state:            model.ConnectionStateDisconnected,
		bytesReceived:    atomic.NewInt64(0),
		recordsDecoded:   atomic.NewInt64(0),
		decodeErrors:     atomic.NewInt64(0),
		framingOverflows: atomic.NewInt64(0),
	}
}

// Connect tears down any running session and starts a new one for req.
// History, raw monitor and counters start empty; sequence indexes restart at 0.
// An open failure leaves the service in the ERROR state and returns a
// *transport.ConnectionError. There is no retry.
func (s *AcquisitionService) Connect(ctx context.Context, req *model.ConnectRequest) (model.Status, error) {
	plan, err := s.resolveRequest(req)
	if err != nil {
		return s.Status(), fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	sel, settings, decoderConfig := plan.selector, plan.settings, plan.decoder

	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	s.stopSession("reconnect")

	sessionID := uuid.New()
	connLogger := utils.NewConnectionLogger(s.logger.Logger, sessionID.String(), sel.String())
	settings.Logger = connLogger.Logger

	s.mutex.Lock()
	s.state = model.ConnectionStateConnecting
	s.detail = ""
	s.selector = sel.String()
	s.sessionID = &sessionID
	s.connectedAt = nil
	s.mutex.Unlock()
	s.publish(model.EventConnecting, "INFO", nil)

	openCtx, cancelOpen := context.WithTimeout(ctx, settings.ConnectTimeout)
	tr, err := s.opener(openCtx, sel, settings)
	cancelOpen()
	if err != nil {
		connLogger.LogConnection("open", false, err)
		s.countConnect("failure")
		s.setState(model.ConnectionStateError, err.Error())
		s.publish(model.EventConnectionError, "ERROR", map[string]interface{}{"error": err.Error()})
		return s.Status(), err
	}

	var sess *session
	dec, err := decoder.New(decoderConfig,
		decoder.WithLogger(connLogger.Logger),
		decoder.WithLineHook(func(line string) { s.monitorLine(sess, line) }),
	)
	if err != nil {
		// resolveRequest already built a decoder from the same config
		tr.Close()
		s.setState(model.ConnectionStateError, err.Error())
		return s.Status(), fmt.Errorf("failed to create decoder: %w", err)
	}

	if plan.capacity != s.store.Capacity() || plan.maxChannels != s.store.MaxChannels() {
		s.store.Resize(plan.capacity, plan.maxChannels)
	} else {
		s.store.Clear()
	}
	s.monitor.Clear()
	s.resetCounters()

	loopCtx, cancel := context.WithCancel(context.Background())
	sess = &session{
		id:        sessionID,
		transport: tr,
		decoder:   dec,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		logger:    connLogger,
	}

	s.mutex.Lock()
	s.session = sess
	s.state = model.ConnectionStateConnected
	s.connectedAt = &sess.startedAt
	s.mutex.Unlock()
	s.setStateMetric(model.ConnectionStateConnected)
	s.countConnect("success")

	connLogger.LogConnection("open", true, nil)
	connLogger.Info("Acquisition session started",
		zap.Any("transport", tr.Info()),
		zap.String("framing", string(decoderConfig.Framing)),
		zap.String("channel_naming", string(decoderConfig.ChannelNaming)),
		zap.Int("capacity", plan.capacity),
		zap.Int("max_channels", plan.maxChannels),
	)
	s.publish(model.EventConnected, "INFO", tr.Info())

	go s.readLoop(loopCtx, sess)

	return s.Status(), nil
}

// Disconnect stops the running session. History is kept.
// Calling it while disconnected is harmless.
func (s *AcquisitionService) Disconnect() model.Status {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	s.stopSession("disconnect")
	return s.Status()
}

// Shutdown disconnects and waits for the read loop, honouring ctx
func (s *AcquisitionService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		s.logger.LogServiceStop("shutdown")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop acquisition: %w", ctx.Err())
	}
}

// Reset clears channel history and the raw monitor without disconnecting
func (s *AcquisitionService) Reset() model.Status {
	s.store.Clear()
	s.monitor.Clear()

	s.logger.Info("Acquisition history cleared")
	s.publish(model.EventHistoryCleared, "INFO", nil)
	return s.Status()
}

// Status returns the connection state and session counters
func (s *AcquisitionService) Status() model.Status {
	s.mutex.RLock()
	status := model.Status{
		State:       s.state,
		Detail:      s.detail,
		Selector:    s.selector,
		SessionID:   s.sessionID,
		ConnectedAt: s.connectedAt,
	}
	s.mutex.RUnlock()

	status.BytesReceived = s.bytesReceived.Load()
	status.RecordsDecoded = s.recordsDecoded.Load()
	status.DecodeErrors = s.decodeErrors.Load()
	status.FramingOverflows = s.framingOverflows.Load()
	status.Channels = len(s.store.Channels())
	status.MaxChannels = s.store.MaxChannels()
	status.Capacity = s.store.Capacity()
	return status
}

// Snapshot returns a copy of one channel's history
func (s *AcquisitionService) Snapshot(id model.ChannelID) ([]model.Point, bool) {
	return s.store.Snapshot(id)
}

// SnapshotAll returns a copy of every channel's history
func (s *AcquisitionService) SnapshotAll() map[model.ChannelID][]model.Point {
	return s.store.SnapshotAll()
}

// SeriesTail returns the newest n points of every channel in first-seen order.
// n <= 0 returns the whole history.
func (s *AcquisitionService) SeriesTail(n int) []model.Series {
	return s.store.SeriesTail(n)
}

// Channels returns the known channels in first-seen order
func (s *AcquisitionService) Channels() []model.ChannelID {
	return s.store.Channels()
}

// DataVersion changes whenever channel history changes
func (s *AcquisitionService) DataVersion() uint64 {
	return s.store.Version()
}

// MonitorLines returns the most recent raw text lines
func (s *AcquisitionService) MonitorLines() []string {
	return s.monitor.Lines()
}

// readLoop moves bytes from the transport through the decoder into the store
// until the session is stopped or the transport fails
func (s *AcquisitionService) readLoop(ctx context.Context, sess *session) {
	defer close(sess.done)

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := sess.transport.ReadChunk(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.failSession(sess, err)
			return
		}

		s.ingestChunk(sess, chunk)

		// Let status and snapshot readers in between chunks
		runtime.Gosched()
	}
}

// ingestChunk decodes one chunk and applies its records to the store
func (s *AcquisitionService) ingestChunk(sess *session, chunk []byte) {
	before := sess.decoder.Stats()
	records, err := sess.decoder.Feed(chunk)
	after := sess.decoder.Stats()

	created, rejected, current := s.applyRecords(sess, records)
	if !current {
		// The session was stopped while decoding; its data must not reach
		// the store or the counters of the next session.
		return
	}

	s.bytesReceived.Add(int64(len(chunk)))
	if rejected > 0 && sess.rejected == 0 {
		sess.logger.Warn("Dropping records past the channel limit",
			zap.Int("max_channels", s.store.MaxChannels()),
		)
	}
	sess.rejected += int64(rejected)

	s.recordsDecoded.Store(after.RecordsDecoded - sess.rejected)
	s.decodeErrors.Store(after.DecodeErrors + sess.rejected)
	s.framingOverflows.Store(after.FramingOverflows)
	if s.metrics != nil {
		s.metrics.BytesReceived.Add(float64(len(chunk)))
		s.metrics.RecordsDecoded.Add(float64(after.RecordsDecoded - before.RecordsDecoded - int64(rejected)))
		s.metrics.DecodeErrors.Add(float64(after.DecodeErrors - before.DecodeErrors + int64(rejected)))
		s.metrics.FramingOverflows.Add(float64(after.FramingOverflows - before.FramingOverflows))
	}

	if len(created) > 0 {
		s.publish(model.EventChannelDiscovered, "INFO", map[string]interface{}{"channels": created})
	}
	if errors.Is(err, decoder.ErrFramingOverflow) {
		s.publish(model.EventFramingOverflow, "WARNING", map[string]interface{}{
			"framing_overflows": after.FramingOverflows,
		})
	}
}

// monitorLine records a raw line of sess while it is the running session
func (s *AcquisitionService) monitorLine(sess *session, line string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.session == sess {
		s.monitor.Append(line)
	}
}

// applyRecords ingests records while sess is still the running session.
// Holding the read lock keeps stopSession from detaching sess halfway through.
func (s *AcquisitionService) applyRecords(sess *session, records []model.SampleRecord) (created []model.ChannelID, rejected int, current bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.session != sess {
		return nil, 0, false
	}
	for _, record := range records {
		newChannels, err := s.store.Ingest(record)
		if errors.Is(err, store.ErrChannelLimit) {
			rejected++
			continue
		}
		created = append(created, newChannels...)
	}
	return created, rejected, true
}

// failSession handles a transport failure reported by the read loop
func (s *AcquisitionService) failSession(sess *session, err error) {
	s.mutex.Lock()
	if s.session != sess {
		// Disconnect or a reconnect already took the session over
		s.mutex.Unlock()
		return
	}
	s.session = nil
	s.state = model.ConnectionStateError
	s.detail = err.Error()
	s.mutex.Unlock()
	s.setStateMetric(model.ConnectionStateError)

	sess.cancel()
	sess.close()

	sess.logger.LogConnection("read", false, err)
	s.logSummary(sess)
	s.publish(model.EventIOError, "ERROR", map[string]interface{}{"error": err.Error()})
}

// stopSession stops the running session, if any, and marks the service disconnected
func (s *AcquisitionService) stopSession(reason string) {
	s.mutex.Lock()
	sess := s.session
	s.session = nil
	changed := s.state != model.ConnectionStateDisconnected
	s.state = model.ConnectionStateDisconnected
	s.detail = ""
	s.connectedAt = nil
	s.mutex.Unlock()
	s.setStateMetric(model.ConnectionStateDisconnected)

	if sess != nil {
		sess.cancel()
		sess.close()

		select {
		case <-sess.done:
		case <-time.After(stopTimeout):
			sess.logger.Warn("Read loop did not stop in time", zap.Duration("timeout", stopTimeout))
		}

		sess.logger.LogConnection(reason, true, nil)
		s.logSummary(sess)
	}

	if changed {
		s.publish(model.EventDisconnected, "INFO", map[string]interface{}{"reason": reason})
	}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		if err := sess.transport.Close(); err != nil {
			sess.logger.Warn("Failed to close transport", zap.Error(err))
		}
	})
}

func (s *AcquisitionService) logSummary(sess *session) {
	sess.logger.LogSessionSummary(
		time.Since(sess.startedAt),
		s.bytesReceived.Load(),
		s.recordsDecoded.Load(),
		s.decodeErrors.Load(),
		s.framingOverflows.Load(),
	)
}

func (s *AcquisitionService) setState(state model.ConnectionState, detail string) {
	s.mutex.Lock()
	s.state = state
	s.detail = detail
	s.mutex.Unlock()
	s.setStateMetric(state)
}

func (s *AcquisitionService) setStateMetric(state model.ConnectionState) {
	if s.metrics != nil {
		s.metrics.SetConnectionState(state)
	}
}

func (s *AcquisitionService) countConnect(result string) {
	if s.metrics != nil {
		s.metrics.ConnectAttempts.WithLabelValues(result).Inc()
	}
}

func (s *AcquisitionService) resetCounters() {
	s.bytesReceived.Store(0)
	s.recordsDecoded.Store(0)
	s.decodeErrors.Store(0)
	s.framingOverflows.Store(0)
}

func (s *AcquisitionService) publish(eventType model.EventType, severity string, data interface{}) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(model.NewAcquisitionEvent(eventType, severity, s.Status(), data))
}
