// Package protocol defines the JSON wire messages exchanged between the
// relay and its clients over the /ws connection. Messages are flat objects
// with a "type" discriminator; field names match the browser client's wire
// format. Signal and message payloads are opaque to the relay.
package protocol

import "encoding/json"

// MessageType discriminates wire messages.
type MessageType string

// Client -> relay.
const (
	TypeUserConnected    MessageType = "user_connected"
	TypeUserDisconnected MessageType = "user_disconnected"
	TypeInitiateCall     MessageType = "initiate_call"
	TypeAcceptCall       MessageType = "accept_call"
	TypeDeclineCall      MessageType = "decline_call"
	TypeEndCall          MessageType = "end_call"
	TypeCallSignal       MessageType = "call_signal"
	TypeSendMessage      MessageType = "send_message"
)

// Relay -> client.
const (
	TypeIncomingCall      MessageType = "incoming_call"
	TypeCallAccepted      MessageType = "call_accepted"
	TypeCallDeclined      MessageType = "call_declined"
	TypeCallEnded         MessageType = "call_ended"
	TypeCallFailed        MessageType = "call_failed"
	TypeNewMessage        MessageType = "new_message"
	TypeUserStatusChanged MessageType = "user_status_changed"
)

// Failure reasons carried by call_failed.
const (
	ReasonUserOffline     = "User is offline"
	ReasonSelfCall        = "Cannot call yourself"
	ReasonCallUnavailable = "Call could not be placed"
)

// Message is the single envelope for every wire message. Fields not used by
// a given type are omitted from the encoding.
type Message struct {
	Type MessageType `json:"type"`

	UserID      string `json:"userId,omitempty"`
	CallerID    string `json:"callerId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	CallID      string `json:"callId,omitempty"`

	// Duration is the client-formatted call duration (e.g. "00:45"),
	// supplied with end_call and stored verbatim.
	Duration string `json:"duration,omitempty"`

	// Signal carries a WebRTC session description or ICE candidate. The
	// relay forwards it without interpretation.
	Signal json.RawMessage `json:"signal,omitempty"`

	// MessageData is an opaque direct-message payload relayed by user id.
	MessageData json.RawMessage `json:"messageData,omitempty"`

	// CallerInfo is populated on incoming_call from the user directory.
	CallerInfo json.RawMessage `json:"callerInfo,omitempty"`

	IsOnline *bool  `json:"isOnline,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Bool is a helper for the IsOnline pointer field.
func Bool(v bool) *bool { return &v }
