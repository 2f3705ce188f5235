// internal/store/store.go
package store

import (
	"errors"
	"sync"

	"acquisition-service/internal/metric"
	"acquisition-service/internal/model"
)

// DefaultCapacity is the per-channel history size used when none is configured
const DefaultCapacity = 4096

// ErrChannelLimit is returned by Ingest when a record would create more
// channels than the store allows
var ErrChannelLimit = errors.New("channel limit reached")

// ChannelStore keeps a bounded history for every channel seen in the stream.
// A single writer ingests records; any number of readers take snapshots.
type ChannelStore struct {
	mu          sync.RWMutex
	capacity    int
	maxChannels int // 0 means unlimited
	series      map[model.ChannelID]*Ring[model.Point]
	order       []model.ChannelID
	version     uint64
	metrics     *metric.Metrics
}

// Option configures a ChannelStore
type Option func(*ChannelStore)

// WithMetrics records ingest and eviction counts in m
func WithMetrics(m *metric.Metrics) Option {
	return func(s *ChannelStore) {
		s.metrics = m
	}
}

// WithMaxChannels bounds the number of channels the store keeps
func WithMaxChannels(n int) Option {
	return func(s *ChannelStore) {
		s.maxChannels = max(n, 0)
	}
}

// NewChannelStore creates a store keeping at most capacity points per channel
func NewChannelStore(capacity int, opts ...Option) *ChannelStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &ChannelStore{
		capacity: capacity,
		series:   make(map[model.ChannelID]*Ring[model.Point]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest appends every value of record to its channel series. The whole record
// is applied under one lock, so snapshots never observe half of it.
// It returns the channels created by this record. A record that would take
// the store past its channel limit is dropped whole with ErrChannelLimit.
func (s *ChannelStore) Ingest(record model.SampleRecord) ([]model.ChannelID, error) {
	if len(record.Values) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxChannels > 0 {
		fresh := 0
		for i, v := range record.Values {
			if _, ok := s.series[v.Channel]; ok || seenBefore(record.Values[:i], v.Channel) {
				continue
			}
			fresh++
		}
		if len(s.order)+fresh > s.maxChannels {
			return nil, ErrChannelLimit
		}
	}

	var created []model.ChannelID
	evicted := 0
	for _, v := range record.Values {
		ring, ok := s.series[v.Channel]
		if !ok {
			ring = NewRing[model.Point](s.capacity)
			s.series[v.Channel] = ring
			s.order = append(s.order, v.Channel)
			created = append(created, v.Channel)
		}
		if _, full := ring.Add(model.Point{Sequence: record.Sequence, Value: v.Value}); full {
			evicted++
		}
	}
	s.version++

	if s.metrics != nil {
		s.metrics.PointsIngested.Add(float64(len(record.Values)))
		if evicted > 0 {
			s.metrics.PointsEvicted.Add(float64(evicted))
		}
		if len(created) > 0 {
			s.metrics.Channels.Set(float64(len(s.order)))
		}
	}
	return created, nil
}

func seenBefore(values []model.ChannelValue, id model.ChannelID) bool {
	for _, v := range values {
		if v.Channel == id {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of one channel's history, oldest first
func (s *ChannelStore) Snapshot(id model.ChannelID) ([]model.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, ok := s.series[id]
	if !ok {
		return nil, false
	}
	return ring.Items(), true
}

// SnapshotAll returns a copy of every channel's history
func (s *ChannelStore) SnapshotAll() map[model.ChannelID][]model.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.ChannelID][]model.Point, len(s.series))
	for id, ring := range s.series {
		out[id] = ring.Items()
	}
	return out
}

// SeriesTail returns the newest n points of every channel in first-seen order.
// n <= 0 returns the whole history.
func (s *ChannelStore) SeriesTail(n int) []model.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Series, 0, len(s.order))
	for _, id := range s.order {
		ring := s.series[id]
		points := ring.Items()
		if n > 0 {
			points = ring.Tail(n)
		}
		out = append(out, model.Series{Channel: id, Points: points})
	}
	return out
}

// Channels returns the known channel ids in the order they were first seen
func (s *ChannelStore) Channels() []model.ChannelID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ChannelID, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of points stored for id
func (s *ChannelStore) Len(id model.ChannelID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ring, ok := s.series[id]; ok {
		return ring.Len()
	}
	return 0
}

// MaxChannels returns the channel limit, 0 when unlimited
func (s *ChannelStore) MaxChannels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxChannels
}

// Capacity returns the per-channel capacity
func (s *ChannelStore) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Version changes on every mutation
func (s *ChannelStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Clear drops every channel and its history
func (s *ChannelStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[model.ChannelID]*Ring[model.Point])
	s.order = nil
	s.version++

	if s.metrics != nil {
		s.metrics.Channels.Set(0)
	}
}

// Resize drops every channel and changes the per-channel capacity and the
// channel limit
func (s *ChannelStore) Resize(capacity, maxChannels int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	s.mu.Lock()
	s.capacity = capacity
	s.maxChannels = max(maxChannels, 0)
	s.mu.Unlock()

	s.Clear()
}
