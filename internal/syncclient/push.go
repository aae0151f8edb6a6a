package syncclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/casacultural/livechat/internal/protocol"
)

// Subscriber opens push subscriptions to a stream.
type Subscriber interface {
	Subscribe(ctx context.Context, streamID string) (Subscription, error)
}

// Subscription is a live push channel. Next blocks until an event arrives,
// the subscription fails or ctx ends.
type Subscription interface {
	Next(ctx context.Context) (protocol.Event, error)
	Close() error
}

// WSSubscriber subscribes over the server's WebSocket endpoint.
type WSSubscriber struct {
	baseURL string
}

// NewWSSubscriber creates a Subscriber for the server at baseURL. http and
// https schemes are mapped to ws and wss.
func NewWSSubscriber(baseURL string) *WSSubscriber {
	return &WSSubscriber{baseURL: strings.TrimRight(baseURL, "/")}
}

// SubscribeURL builds the WebSocket URL for streamID.
func SubscribeURL(baseURL, streamID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("syncclient: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("syncclient: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/chat/subscribe"
	u.RawQuery = url.Values{"streamId": {streamID}}.Encode()
	return u.String(), nil
}

func (s *WSSubscriber) Subscribe(ctx context.Context, streamID string) (Subscription, error) {
	target, err := SubscribeURL(s.baseURL, streamID)
	if err != nil {
		return nil, err
	}
	conn, br, _, err := ws.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("syncclient: dial %s: %w", target, err)
	}
	sub := &wsSubscription{conn: conn, rw: conn}
	// Frames sent right after the handshake may already sit in br.
	if br != nil {
		sub.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	return sub, nil
}

type wsSubscription struct {
	conn net.Conn
	rw   io.ReadWriter
}

// Next reads the next text frame. Server pings are answered by wsutil while
// reading.
func (s *wsSubscription) Next(ctx context.Context) (protocol.Event, error) {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		data, err := wsutil.ReadServerText(s.rw)
		if err != nil {
			if ctx.Err() != nil {
				return protocol.Event{}, ctx.Err()
			}
			return protocol.Event{}, fmt.Errorf("syncclient: read push frame: %w", err)
		}
		ev, err := protocol.ParseEvent(data)
		if err != nil {
			// Skip frames we cannot decode rather than dropping the channel.
			continue
		}
		return ev, nil
	}
}

func (s *wsSubscription) Close() error {
	return s.conn.Close()
}
