// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"acquisition-service/internal/model"
)

// EventBus fans acquisition events out to subscribers. It implements
// service.EventSink.
type EventBus struct {
	subscribers map[model.EventType][]chan model.AcquisitionEvent
	wildcard    []chan model.AcquisitionEvent
	events      chan model.AcquisitionEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.AcquisitionEvent),
		events:      make(chan model.AcquisitionEvent, 1000),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until ctx is done
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues an event without blocking the publisher
func (eb *EventBus) Publish(event model.AcquisitionEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
		)
	}
}

// Subscribe returns a channel receiving events of the given types, or of every
// type when none are given
func (eb *EventBus) Subscribe(eventTypes ...model.EventType) <-chan model.AcquisitionEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.AcquisitionEvent, 100)
	if len(eventTypes) == 0 {
		eb.wildcard = append(eb.wildcard, subscriber)
		return subscriber
	}
	for _, eventType := range eventTypes {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	}
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.AcquisitionEvent) {
	eb.mutex.RLock()
	subscribers := append(eb.subscribers[event.EventType][:0:0], eb.subscribers[event.EventType]...)
	subscribers = append(subscribers, eb.wildcard...)
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
