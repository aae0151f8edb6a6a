// Package hub fans chat events out to every viewer connected to a stream.
// Delivery is best effort: a sink that fails to accept a push within the
// delivery timeout is dropped without affecting other sinks or the caller.
package hub

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/metrics"
	"github.com/casacultural/livechat/internal/protocol"
)

// Sink is a connected viewer able to receive pushed frames.
type Sink interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
}

// Relay forwards encoded frames between hub instances. When a relay is set
// every publish goes through it and local fan-out happens when the relay
// hands the frame back.
type Relay interface {
	PublishStreamEvent(streamID string, frame []byte) error
	SubscribeStreamEvents(handler func(streamID string, frame []byte)) error
}

// Config holds hub tuning parameters.
type Config struct {
	DeliveryTimeout time.Duration // max time a single sink may take to accept a frame
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{DeliveryTimeout: 2 * time.Second}
}

// stream is the subscriber set of one stream. pubMu serializes fan-out so
// every sink observes events in publish order.
type stream struct {
	pubMu sync.Mutex
	sinks map[string]Sink
}

// Hub keeps the subscriber set of every stream with at least one viewer.
type Hub struct {
	config  Config
	mu      sync.RWMutex
	streams map[string]*stream // streamID -> subscribers
	relay   Relay
	onDrop  func(streamID string, s Sink)
}

// New creates a Hub that fans out in-process.
func New(config Config) *Hub {
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultConfig().DeliveryTimeout
	}
	return &Hub{
		config:  config,
		streams: make(map[string]*stream),
	}
}

// UseRelay routes publishes through relay and subscribes to its frames.
func (h *Hub) UseRelay(relay Relay) error {
	if err := relay.SubscribeStreamEvents(h.deliver); err != nil {
		return err
	}
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
	return nil
}

// OnDrop registers a callback invoked after a sink is removed for a failed
// delivery.
func (h *Hub) OnDrop(fn func(streamID string, s Sink)) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Subscribe registers sink under streamID. Subscribing the same sink id
// twice replaces the earlier registration.
func (h *Hub) Subscribe(streamID string, sink Sink) {
	h.mu.Lock()
	st, ok := h.streams[streamID]
	if !ok {
		st = &stream{sinks: make(map[string]Sink)}
		h.streams[streamID] = st
	}
	_, existed := st.sinks[sink.ID()]
	st.sinks[sink.ID()] = sink
	h.mu.Unlock()

	if !existed {
		metrics.Subscribers.Inc()
	}
	log.Printf("[hub] subscribe stream=%s sink=%s", streamID, sink.ID())
}

// Unsubscribe removes a sink. It reports whether the sink was registered.
func (h *Hub) Unsubscribe(streamID, sinkID string) bool {
	h.mu.Lock()
	st, ok := h.streams[streamID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	_, ok = st.sinks[sinkID]
	if ok {
		delete(st.sinks, sinkID)
		if len(st.sinks) == 0 {
			delete(h.streams, streamID)
		}
	}
	h.mu.Unlock()

	if ok {
		metrics.Subscribers.Dec()
		log.Printf("[hub] unsubscribe stream=%s sink=%s", streamID, sinkID)
	}
	return ok
}

// Viewers returns the number of sinks subscribed to streamID.
func (h *Hub) Viewers(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.streams[streamID]; ok {
		return len(st.sinks)
	}
	return 0
}

// Streams returns the ids of every stream with at least one viewer, sorted.
func (h *Hub) Streams() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.streams))
	for id := range h.streams {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Publish encodes payload as an event of eventType and delivers it to every
// sink of streamID. Delivery failures are logged and never returned; the
// only error is a payload that cannot be encoded.
func (h *Hub) Publish(streamID, eventType string, payload interface{}) error {
	frame, err := protocol.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(eventType).Inc()

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()

	if relay != nil {
		err := relay.PublishStreamEvent(streamID, frame)
		if err == nil {
			return nil
		}
		log.Printf("[hub] relay publish stream=%s failed, delivering locally: %v", streamID, err)
	}
	h.deliver(streamID, frame)
	return nil
}

// PublishAll publishes the event to every stream that currently has viewers.
func (h *Hub) PublishAll(eventType string, payload interface{}) error {
	for _, id := range h.Streams() {
		if err := h.Publish(id, eventType, payload); err != nil {
			return err
		}
	}
	return nil
}

// deliver pushes frame to every sink of the stream concurrently and waits
// for all of them, bounded by the delivery timeout.
func (h *Hub) deliver(streamID string, frame []byte) {
	h.mu.RLock()
	st, ok := h.streams[streamID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	st.pubMu.Lock()
	defer st.pubMu.Unlock()

	h.mu.RLock()
	sinks := make([]Sink, 0, len(st.sinks))
	for _, s := range st.sinks {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	start := time.Now()
	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), h.config.DeliveryTimeout)
			defer cancel()
			if err := s.Send(ctx, frame); err != nil {
				h.drop(streamID, s, err)
			}
		}(s)
	}
	wg.Wait()
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// drop removes a sink after a failed delivery. No retry is attempted.
func (h *Hub) drop(streamID string, s Sink, cause error) {
	metrics.DeliveryFailures.Inc()
	log.Printf("[hub] %v (stream=%s), dropping sink", chat.DeliveryFailure(s.ID(), cause), streamID)
	h.Unsubscribe(streamID, s.ID())

	h.mu.RLock()
	onDrop := h.onDrop
	h.mu.RUnlock()
	if onDrop != nil {
		onDrop(streamID, s)
	}
}
