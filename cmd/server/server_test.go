package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/AnZomorodian/Globallink2/internal/config"
	"github.com/AnZomorodian/Globallink2/internal/store"
	"github.com/AnZomorodian/Globallink2/internal/types"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	st := store.NewMemory()
	return NewServer(config.Config{Addr: ":0", LogLevel: "info"}, log, st), st
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeUser(t *testing.T, w *httptest.ResponseRecorder) types.User {
	t.Helper()
	var u types.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode user: %v (%s)", err, w.Body.String())
	}
	return u
}

func TestSignupAndLogin(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice", "displayName": "Alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signup status %d: %s", w.Code, w.Body.String())
	}
	u := decodeUser(t, w)
	if u.ID == "" || u.VoiceID == "" || u.Email != "alice@globalink.local" {
		t.Fatalf("signup defaults missing: %+v", u)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("password leaked in response: %s", w.Body.String())
	}

	// Duplicate username rejected.
	w = doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice", "displayName": "Other",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate signup status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice"})
	if w.Code != http.StatusOK || decodeUser(t, w).ID != u.ID {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/auth/login", map[string]string{"username": "nobody"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown login status %d", w.Code)
	}
}

func TestSignupValidation(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "ab", "displayName": "X",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short username accepted: %d", w.Code)
	}
}

func TestRegisterPasswordMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "displayName": "Alice", "email": "a@example.com",
		"password": "one", "confirmPassword": "two",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("mismatched passwords accepted: %d", w.Code)
	}
}

func TestVoiceIDLookup(t *testing.T) {
	s, _ := newTestServer(t)
	u := decodeUser(t, doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice", "displayName": "Alice",
	}))

	w := doJSON(t, s, http.MethodGet, "/api/users/voice/"+u.VoiceID, nil)
	if w.Code != http.StatusOK || decodeUser(t, w).ID != u.ID {
		t.Fatalf("voice lookup failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/users/voice/VC-0000", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing voice id status %d", w.Code)
	}
}

func TestUpdateUserProfile(t *testing.T) {
	s, _ := newTestServer(t)
	u := decodeUser(t, doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice", "displayName": "Alice",
	}))

	w := doJSON(t, s, http.MethodPatch, "/api/users/"+u.ID, map[string]string{
		"jobTitle": "Engineer",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status %d: %s", w.Code, w.Body.String())
	}
	got := decodeUser(t, w)
	if got.JobTitle != "Engineer" || got.DisplayName != "Alice" {
		t.Fatalf("patch applied wrong fields: %+v", got)
	}

	w = doJSON(t, s, http.MethodPatch, "/api/users/unknown", map[string]string{"bio": "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("patch unknown user status %d", w.Code)
	}
}

func TestCallHistoryEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	alice := decodeUser(t, doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice", "displayName": "Alice",
	}))
	bob := decodeUser(t, doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "bob", "displayName": "Bob",
	}))

	call, err := st.CreateCall(context.Background(), alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create call: %v", err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/calls/history/"+alice.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status %d", w.Code)
	}
	var rows []types.CallWithUsers
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != call.ID {
		t.Fatalf("history rows: %+v", rows)
	}
	if rows[0].CallerInfo == nil || rows[0].CallerInfo.Username != "alice" {
		t.Fatalf("callerInfo not populated: %+v", rows[0])
	}
	if rows[0].RecipientInfo == nil || rows[0].RecipientInfo.Username != "bob" {
		t.Fatalf("recipientInfo not populated: %+v", rows[0])
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	alice := decodeUser(t, doJSON(t, s, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice", "displayName": "Alice",
	}))
	if err := st.SetUserOnline(context.Background(), alice.ID, true); err != nil {
		t.Fatalf("set online: %v", err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status %d", w.Code)
	}
	var stats types.ServerStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalUsers != 1 || stats.OnlineUsers != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
}
