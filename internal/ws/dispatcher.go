package ws

import (
	"log"

	"github.com/casacultural/livechat/internal/protocol"
)

// MessageHandler handles one client frame of a registered type. data is the
// raw frame so handlers can decode their own payload.
type MessageHandler func(conn *Connection, data []byte)

// MessageDispatcher routes incoming client frames to registered handlers
// based on the message type. Ping is answered internally; malformed or
// unsupported frames get a structured error event.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error sink=%s: %v", conn.ID(), err)
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q sink=%s", msgType, conn.ID())
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, data)
}

// sendError sends a structured error event back to the client.
func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewEvent(protocol.TypeError, protocol.ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event sink=%s: %v", conn.ID(), err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error event sink=%s: %v", conn.ID(), err)
	}
}

// sendPong answers an application-level ping.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewEvent(protocol.TypePong, nil)
	if err != nil {
		log.Printf("ws: failed to build pong event sink=%s: %v", conn.ID(), err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong event sink=%s: %v", conn.ID(), err)
	}
}
