// Package messaging provides a NATS client wrapper that relays broadcast hub
// events between chat server instances. Each stream maps to the subject
// stream.<streamID>; a single wildcard subscription feeds the local hub.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the chat service.
const (
	SubjectStream    = "stream"   // + .<stream_id>
	SubjectStreamAll = "stream.>" // wildcard consumed by every instance
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "livechat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// StreamSubject returns the subject carrying events of one stream.
func StreamSubject(streamID string) string {
	return SubjectStream + "." + streamID
}

// StreamIDFromSubject extracts the stream id from a stream.<id> subject.
func StreamIDFromSubject(subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, SubjectStream+".")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishStreamEvent publishes an encoded hub frame to stream.<streamID>.
func (c *NATSClient) PublishStreamEvent(streamID string, frame []byte) error {
	return c.Publish(StreamSubject(streamID), frame)
}

// SubscribeStreamEvents subscribes to every stream subject. NATS invokes
// handler sequentially per subscription, so per-stream order is kept.
func (c *NATSClient) SubscribeStreamEvents(handler func(streamID string, frame []byte)) error {
	return c.Subscribe(SubjectStreamAll, func(msg *nats.Msg) {
		streamID, ok := StreamIDFromSubject(msg.Subject)
		if !ok {
			log.Printf("[nats] ignoring message on unexpected subject %s", msg.Subject)
			return
		}
		handler(streamID, msg.Data)
	})
}

// UnsubscribeStreamEvents removes the wildcard stream subscription.
func (c *NATSClient) UnsubscribeStreamEvents() error {
	return c.unsubscribe(SubjectStreamAll)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
