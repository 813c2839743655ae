// Package client is a Go client for the relay's websocket protocol. It is
// used by the example programs and by integration tests; browsers speak the
// same wire format.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/coder/websocket"

	cidpkg "github.com/AnZomorodian/Globallink2/internal/cid"
	"github.com/AnZomorodian/Globallink2/pkg/protocol"
)

// EventHandler receives server-pushed events. Implementations must not
// block; they run on the Listen goroutine.
type EventHandler interface {
	OnConnected()
	OnDisconnected()
	OnIncomingCall(callID, callerID string, callerInfo json.RawMessage)
	OnCallAccepted(callID string)
	OnCallDeclined(callID string)
	OnCallEnded(callID string)
	OnCallFailed(reason string)
	OnCallSignal(callID string, signal json.RawMessage)
	OnNewMessage(messageData json.RawMessage)
	OnUserStatusChanged(userID string, isOnline bool)
}

// DefaultEventHandler logs every event; embed it to override a subset.
type DefaultEventHandler struct{}

func (h *DefaultEventHandler) OnConnected()    { log.Printf("connected to relay") }
func (h *DefaultEventHandler) OnDisconnected() { log.Printf("disconnected from relay") }
func (h *DefaultEventHandler) OnIncomingCall(callID, callerID string, _ json.RawMessage) {
	log.Printf("incoming call %s from %s", callID, callerID)
}
func (h *DefaultEventHandler) OnCallAccepted(callID string) { log.Printf("call %s accepted", callID) }
func (h *DefaultEventHandler) OnCallDeclined(callID string) { log.Printf("call %s declined", callID) }
func (h *DefaultEventHandler) OnCallEnded(callID string)    { log.Printf("call %s ended", callID) }
func (h *DefaultEventHandler) OnCallFailed(reason string)   { log.Printf("call failed: %s", reason) }
func (h *DefaultEventHandler) OnCallSignal(callID string, _ json.RawMessage) {
	log.Printf("signal for call %s", callID)
}
func (h *DefaultEventHandler) OnNewMessage(_ json.RawMessage) { log.Printf("new message") }
func (h *DefaultEventHandler) OnUserStatusChanged(userID string, isOnline bool) {
	log.Printf("user %s online=%v", userID, isOnline)
}

// CallClient is a relay connection for one user.
type CallClient struct {
	conn      *websocket.Conn
	config    Config
	connected bool
	handler   EventHandler
}

// New returns a client; call Connect before anything else.
func New(config Config) *CallClient {
	if config.UserAgent == "" {
		config.UserAgent = "globalink-client/1.0.0"
	}
	return &CallClient{config: config, handler: &DefaultEventHandler{}}
}

// SetEventHandler replaces the event callbacks. Call before Listen.
func (c *CallClient) SetEventHandler(h EventHandler) { c.handler = h }

// IsConnected reports whether the websocket is up.
func (c *CallClient) IsConnected() bool { return c.connected }

// buildDialHeaders constructs the upgrade headers, propagating a correlation
// id from the context when one is present.
func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

// Connect dials the relay.
func (c *CallClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.config.ServerURL, &websocket.DialOptions{
		HTTPHeader: buildDialHeaders(ctx, c.config.UserAgent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.handler.OnConnected()
	return nil
}

// Disconnect closes the websocket.
func (c *CallClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	c.connected = false
	err := c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.handler.OnDisconnected()
	return err
}

// Identify announces this client's user id, making it addressable.
func (c *CallClient) Identify(ctx context.Context) error {
	return c.send(ctx, protocol.Message{
		Type:   protocol.TypeUserConnected,
		UserID: c.config.UserID,
	})
}

// Call rings another user.
func (c *CallClient) Call(ctx context.Context, recipientID string) error {
	return c.send(ctx, protocol.Message{
		Type:        protocol.TypeInitiateCall,
		CallerID:    c.config.UserID,
		RecipientID: recipientID,
	})
}

// Accept answers an incoming call.
func (c *CallClient) Accept(ctx context.Context, callID string) error {
	return c.send(ctx, protocol.Message{Type: protocol.TypeAcceptCall, CallID: callID})
}

// Decline rejects an incoming call.
func (c *CallClient) Decline(ctx context.Context, callID string) error {
	return c.send(ctx, protocol.Message{Type: protocol.TypeDeclineCall, CallID: callID})
}

// End hangs up; duration is the client-formatted elapsed time.
func (c *CallClient) End(ctx context.Context, callID, duration string) error {
	return c.send(ctx, protocol.Message{
		Type:     protocol.TypeEndCall,
		CallID:   callID,
		Duration: duration,
	})
}

// SendSignal forwards an opaque WebRTC payload to the call's counterparty.
func (c *CallClient) SendSignal(ctx context.Context, callID string, signal json.RawMessage) error {
	return c.send(ctx, protocol.Message{
		Type:   protocol.TypeCallSignal,
		CallID: callID,
		Signal: signal,
	})
}

// SendMessage relays an opaque payload to another user by id.
func (c *CallClient) SendMessage(ctx context.Context, recipientID string, data json.RawMessage) error {
	return c.send(ctx, protocol.Message{
		Type:        protocol.TypeSendMessage,
		RecipientID: recipientID,
		MessageData: data,
	})
}

// Listen reads server events until ctx ends or the connection drops.
func (c *CallClient) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			c.connected = false
			return fmt.Errorf("read error: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("failed to unmarshal server message: %v", err)
			continue
		}
		c.handleServerMessage(msg)
	}
}

func (c *CallClient) handleServerMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeIncomingCall:
		c.handler.OnIncomingCall(msg.CallID, msg.CallerID, msg.CallerInfo)
	case protocol.TypeCallAccepted:
		c.handler.OnCallAccepted(msg.CallID)
	case protocol.TypeCallDeclined:
		c.handler.OnCallDeclined(msg.CallID)
	case protocol.TypeCallEnded:
		c.handler.OnCallEnded(msg.CallID)
	case protocol.TypeCallFailed:
		c.handler.OnCallFailed(msg.Reason)
	case protocol.TypeCallSignal:
		c.handler.OnCallSignal(msg.CallID, msg.Signal)
	case protocol.TypeNewMessage:
		c.handler.OnNewMessage(msg.MessageData)
	case protocol.TypeUserStatusChanged:
		isOnline := msg.IsOnline != nil && *msg.IsOnline
		c.handler.OnUserStatusChanged(msg.UserID, isOnline)
	}
}

func (c *CallClient) send(ctx context.Context, msg protocol.Message) error {
	if !c.connected {
		return fmt.Errorf("client not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}
