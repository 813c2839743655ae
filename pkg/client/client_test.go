package client

import (
	"context"
	"encoding/json"
	"testing"

	cidpkg "github.com/AnZomorodian/Globallink2/internal/cid"
	"github.com/AnZomorodian/Globallink2/pkg/protocol"
)

func TestBuildDialHeadersIncludesCID(t *testing.T) {
	ctx := cidpkg.WithCID(context.Background(), "unit-test-cid-42")
	h := buildDialHeaders(ctx, "test-agent/1.0")
	if got := h[cidpkg.HeaderName]; len(got) == 0 || got[0] != "unit-test-cid-42" {
		t.Fatalf("expected header %s=%s, got %v", cidpkg.HeaderName, "unit-test-cid-42", got)
	}
	if got := h["User-Agent"]; len(got) == 0 || got[0] != "test-agent/1.0" {
		t.Fatalf("expected User-Agent header, got %v", got)
	}
}

func TestBuildDialHeadersWithoutCID(t *testing.T) {
	h := buildDialHeaders(context.Background(), "test-agent/1.0")
	if got := h[cidpkg.HeaderName]; len(got) != 0 {
		t.Fatalf("unexpected CID header %v", got)
	}
}

// recordingHandler captures every event for assertions.
type recordingHandler struct {
	DefaultEventHandler
	incoming []protocol.Message
	accepted []string
	ended    []string
	failed   []string
	signals  []json.RawMessage
	statuses map[string]bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{statuses: make(map[string]bool)}
}

func (h *recordingHandler) OnIncomingCall(callID, callerID string, callerInfo json.RawMessage) {
	h.incoming = append(h.incoming, protocol.Message{
		CallID: callID, CallerID: callerID, CallerInfo: callerInfo,
	})
}
func (h *recordingHandler) OnCallAccepted(callID string) { h.accepted = append(h.accepted, callID) }
func (h *recordingHandler) OnCallEnded(callID string)    { h.ended = append(h.ended, callID) }
func (h *recordingHandler) OnCallFailed(reason string)   { h.failed = append(h.failed, reason) }
func (h *recordingHandler) OnCallSignal(_ string, signal json.RawMessage) {
	h.signals = append(h.signals, signal)
}
func (h *recordingHandler) OnUserStatusChanged(userID string, isOnline bool) {
	h.statuses[userID] = isOnline
}

func TestHandleServerMessageDispatch(t *testing.T) {
	h := newRecordingHandler()
	c := New(Config{ServerURL: "ws://unused/ws", UserID: "u1"})
	c.SetEventHandler(h)

	c.handleServerMessage(protocol.Message{
		Type:       protocol.TypeIncomingCall,
		CallID:     "call-1",
		CallerID:   "u2",
		CallerInfo: json.RawMessage(`{"username":"bob"}`),
	})
	if len(h.incoming) != 1 || h.incoming[0].CallID != "call-1" || h.incoming[0].CallerID != "u2" {
		t.Fatalf("incoming not dispatched: %+v", h.incoming)
	}

	c.handleServerMessage(protocol.Message{Type: protocol.TypeCallAccepted, CallID: "call-1"})
	c.handleServerMessage(protocol.Message{Type: protocol.TypeCallEnded, CallID: "call-1"})
	if len(h.accepted) != 1 || len(h.ended) != 1 {
		t.Fatalf("accepted=%v ended=%v", h.accepted, h.ended)
	}

	c.handleServerMessage(protocol.Message{Type: protocol.TypeCallFailed, Reason: protocol.ReasonUserOffline})
	if len(h.failed) != 1 || h.failed[0] != protocol.ReasonUserOffline {
		t.Fatalf("failed=%v", h.failed)
	}

	sig := json.RawMessage(`{"candidate":"x"}`)
	c.handleServerMessage(protocol.Message{Type: protocol.TypeCallSignal, CallID: "call-1", Signal: sig})
	if len(h.signals) != 1 || string(h.signals[0]) != string(sig) {
		t.Fatalf("signals=%v", h.signals)
	}

	c.handleServerMessage(protocol.Message{
		Type:     protocol.TypeUserStatusChanged,
		UserID:   "u2",
		IsOnline: protocol.Bool(true),
	})
	c.handleServerMessage(protocol.Message{Type: protocol.TypeUserStatusChanged, UserID: "u3"})
	if !h.statuses["u2"] || h.statuses["u3"] {
		t.Fatalf("statuses=%v", h.statuses)
	}

	// Unknown types are ignored.
	c.handleServerMessage(protocol.Message{Type: "mystery"})
}

func TestSendBeforeConnect(t *testing.T) {
	c := New(Config{ServerURL: "ws://unused/ws", UserID: "u1"})
	if err := c.Identify(context.Background()); err == nil {
		t.Fatal("expected error sending before Connect")
	}
}

func TestDefaultUserAgent(t *testing.T) {
	c := New(Config{ServerURL: "ws://unused/ws"})
	if c.config.UserAgent == "" {
		t.Fatal("expected a default user agent")
	}
}
