// Package signaling implements the call-control protocol engine. The router
// validates inbound messages, drives call-state transitions in the store and
// relays messages to the counterparty resolved from the call record. Every
// error is contained at the handler boundary: a bad message from one
// connection never affects another connection's session.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AnZomorodian/Globallink2/internal/registry"
	"github.com/AnZomorodian/Globallink2/internal/store"
	"github.com/AnZomorodian/Globallink2/internal/types"
	"github.com/AnZomorodian/Globallink2/pkg/protocol"
)

// Router dispatches inbound wire messages for one relay instance.
type Router struct {
	reg      *registry.Registry
	store    store.Storage
	presence *Broadcaster
	log      *logrus.Logger
}

// NewRouter wires the protocol engine to its shared stores.
func NewRouter(reg *registry.Registry, st store.Storage, presence *Broadcaster, log *logrus.Logger) *Router {
	return &Router{reg: reg, store: st, presence: presence, log: log}
}

// Dispatch parses one inbound frame from sender and routes it. Malformed or
// unknown messages are logged and dropped; the connection stays open.
func (r *Router) Dispatch(ctx context.Context, sender *registry.Client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.WithFields(logrus.Fields{"conn_id": sender.ID, "error": err}).
			Warn("dropping unparseable message")
		return
	}

	switch msg.Type {
	case protocol.TypeUserConnected:
		r.handleUserConnected(ctx, sender, msg)
	case protocol.TypeUserDisconnected:
		r.handleUserDisconnected(ctx, sender, msg)
	case protocol.TypeInitiateCall:
		r.handleInitiateCall(ctx, sender, msg)
	case protocol.TypeAcceptCall:
		r.handleAcceptCall(ctx, sender, msg)
	case protocol.TypeDeclineCall:
		r.handleDeclineCall(ctx, sender, msg)
	case protocol.TypeEndCall:
		r.handleEndCall(ctx, sender, msg)
	case protocol.TypeCallSignal:
		r.handleCallSignal(ctx, sender, msg)
	case protocol.TypeSendMessage:
		r.handleSendMessage(ctx, sender, msg)
	default:
		r.log.WithFields(logrus.Fields{"conn_id": sender.ID, "type": msg.Type}).
			Warn("dropping message of unknown type")
	}
}

// handleUserConnected associates the connection with its user id and makes it
// the canonical connection for that user. Repeated messages from the same
// connection just re-register.
func (r *Router) handleUserConnected(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	if msg.UserID == "" {
		r.log.WithField("conn_id", sender.ID).Warn("user_connected without userId")
		return
	}
	println("DEBUG register", sender.ID, msg.UserID)
	sender.UserID = msg.UserID
	if prev := r.reg.Register(msg.UserID, sender); prev != nil {
		r.log.WithFields(logrus.Fields{"user_id": msg.UserID, "old_conn": prev.ID, "new_conn": sender.ID}).
			Info("replacing connection for user")
	}
	if err := r.store.SetUserOnline(ctx, msg.UserID, true); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		r.log.WithFields(logrus.Fields{"user_id": msg.UserID, "error": err}).
			Error("failed to persist online status")
	}
	r.presence.Broadcast(ctx, msg.UserID, true)
}

// handleUserDisconnected is the explicit variant of a transport close. It
// only acts when the announcing connection owns the user id.
func (r *Router) handleUserDisconnected(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	if msg.UserID == "" || msg.UserID != sender.UserID {
		return
	}
	r.Disconnect(ctx, sender)
}

// Disconnect cleans up after a connection closes, gracefully or abruptly. A
// connection that never identified itself needs no cleanup. Removal is keyed
// on the connection id so tearing down a replaced connection leaves the
// newer registration alone.
func (r *Router) Disconnect(ctx context.Context, sender *registry.Client) {
	if sender.UserID == "" {
		return
	}
	if !r.reg.Remove(sender.UserID, sender.ID) {
		return
	}
	if err := r.store.SetUserOnline(ctx, sender.UserID, false); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		r.log.WithFields(logrus.Fields{"user_id": sender.UserID, "error": err}).
			Error("failed to persist offline status")
	}
	r.presence.Broadcast(ctx, sender.UserID, false)
}

func (r *Router) handleInitiateCall(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	callerID, recipientID := msg.CallerID, msg.RecipientID
	if callerID == "" || recipientID == "" {
		r.log.WithField("conn_id", sender.ID).Warn("initiate_call missing participant ids")
		return
	}
	if callerID == recipientID {
		sender.Enqueue(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonSelfCall})
		return
	}

	// Recipient must name a real account before any call record exists.
	// Not-found reads the same as offline to the caller.
	if _, err := r.store.GetUser(ctx, recipientID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			sender.Enqueue(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonUserOffline})
			return
		}
		r.log.WithFields(logrus.Fields{"recipient_id": recipientID, "error": err}).
			Error("recipient lookup failed")
		sender.Enqueue(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonCallUnavailable})
		return
	}

	call, err := r.store.CreateCall(ctx, callerID, recipientID)
	if err != nil {
		r.log.WithFields(logrus.Fields{"caller_id": callerID, "recipient_id": recipientID, "error": err}).
			Error("failed to create call")
		sender.Enqueue(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonCallUnavailable})
		return
	}

	callerInfo, err := r.callerInfo(ctx, callerID)
	if err != nil {
		r.failCall(ctx, call.ID)
		sender.Enqueue(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonCallUnavailable})
		return
	}

	recipient, ok := r.reg.Lookup(recipientID)
	if !ok || !recipient.Enqueue(protocol.Message{
		Type:       protocol.TypeIncomingCall,
		CallID:     call.ID,
		CallerID:   callerID,
		CallerInfo: callerInfo,
	}) {
		r.failCall(ctx, call.ID)
		sender.Enqueue(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonUserOffline})
		return
	}

	r.log.WithFields(logrus.Fields{"call_id": call.ID, "caller_id": callerID, "recipient_id": recipientID}).
		Info("call initiated")
}

// failCall marks an undeliverable call attempt missed so nothing is left
// stuck in calling.
func (r *Router) failCall(ctx context.Context, callID string) {
	if _, _, err := r.store.UpdateCallStatus(ctx, callID, types.CallMissed, nil, ""); err != nil {
		r.log.WithFields(logrus.Fields{"call_id": callID, "error": err}).
			Error("failed to mark call missed")
	}
}

// transition applies a status change and logs store failures. Unknown call
// ids and stale transitions both come back as applied=false with a nil
// error only when the call exists; a missing call surfaces as an error the
// callers treat as a silent drop.
func (r *Router) transition(ctx context.Context, callID string, status types.CallStatus, endTime *time.Time, duration string) (types.Call, bool, error) {
	if callID == "" {
		return types.Call{}, false, store.ErrCallNotFound
	}
	call, applied, err := r.store.UpdateCallStatus(ctx, callID, status, endTime, duration)
	if err != nil && !errors.Is(err, store.ErrCallNotFound) {
		r.log.WithFields(logrus.Fields{"call_id": callID, "status": status, "error": err}).
			Error("call transition failed")
	}
	return call, applied, err
}

// callerInfo loads the caller's directory entry for the incoming_call
// notification. Password never serializes, so the raw encoding is safe to
// forward.
func (r *Router) callerInfo(ctx context.Context, callerID string) (json.RawMessage, error) {
	u, err := r.store.GetUser(ctx, callerID)
	if err != nil {
		r.log.WithFields(logrus.Fields{"caller_id": callerID, "error": err}).
			Error("caller lookup failed")
		return nil, err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Router) handleAcceptCall(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	call, applied, err := r.transition(ctx, msg.CallID, types.CallConnected, nil, "")
	if err != nil || !applied {
		return
	}
	if caller, ok := r.reg.Lookup(call.CallerID); ok {
		caller.Enqueue(protocol.Message{Type: protocol.TypeCallAccepted, CallID: call.ID})
	}
	r.log.WithFields(logrus.Fields{"call_id": call.ID, "conn_id": sender.ID}).Info("call accepted")
}

func (r *Router) handleDeclineCall(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	if msg.CallID == "" {
		return
	}
	// Declining is only meaningful while the call is still ringing; a stale
	// decline after the caller hung up or the call connected is a no-op.
	if cur, err := r.store.GetCall(ctx, msg.CallID); err != nil || cur.Status != types.CallCalling {
		return
	}
	now := time.Now()
	call, applied, err := r.transition(ctx, msg.CallID, types.CallEnded, &now, "")
	if err != nil || !applied {
		return
	}
	if caller, ok := r.reg.Lookup(call.CallerID); ok {
		caller.Enqueue(protocol.Message{Type: protocol.TypeCallDeclined, CallID: call.ID})
	}
	r.log.WithFields(logrus.Fields{"call_id": call.ID, "conn_id": sender.ID}).Info("call declined")
}

func (r *Router) handleEndCall(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	duration := msg.Duration
	if duration == "" {
		duration = "00:00"
	}
	now := time.Now()
	call, _, err := r.transition(ctx, msg.CallID, types.CallEnded, &now, duration)
	if err != nil {
		return
	}
	// The counterparty comes from the call record, not connection state: the
	// sender may already be tearing down. Each ending party notifies the
	// other even when the transition itself was a no-op.
	other, ok := call.OtherParty(sender.UserID)
	if !ok {
		r.log.WithFields(logrus.Fields{"call_id": call.ID, "user_id": sender.UserID}).
			Warn("end_call from non-participant")
		return
	}
	if peer, ok := r.reg.Lookup(other); ok {
		peer.Enqueue(protocol.Message{Type: protocol.TypeCallEnded, CallID: call.ID})
	}
	r.log.WithFields(logrus.Fields{"call_id": call.ID, "duration": duration}).Info("call ended")
}

// handleCallSignal relays a WebRTC negotiation payload verbatim. Signals for
// unknown, ended or missed calls, or whose counterparty is gone, are dropped
// silently: they legitimately race with teardown.
func (r *Router) handleCallSignal(ctx context.Context, sender *registry.Client, msg protocol.Message) {
	if msg.CallID == "" {
		return
	}
	call, err := r.store.GetCall(ctx, msg.CallID)
	if err != nil {
		return
	}
	if call.Status.Terminal() {
		return
	}
	other, ok := call.OtherParty(sender.UserID)
	if !ok {
		return
	}
	if peer, ok := r.reg.Lookup(other); ok {
		peer.Enqueue(protocol.Message{
			Type:   protocol.TypeCallSignal,
			CallID: call.ID,
			Signal: msg.Signal,
		})
	}
}

// handleSendMessage relays an opaque payload addressed by user id. There is
// no store-and-forward here; an offline recipient simply does not receive it.
func (r *Router) handleSendMessage(_ context.Context, _ *registry.Client, msg protocol.Message) {
	if msg.RecipientID == "" {
		return
	}
	if peer, ok := r.reg.Lookup(msg.RecipientID); ok {
		peer.Enqueue(protocol.Message{
			Type:        protocol.TypeNewMessage,
			MessageData: msg.MessageData,
		})
	}
}
