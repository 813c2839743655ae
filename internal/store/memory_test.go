package store_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnZomorodian/Globallink2/internal/store"
	"github.com/AnZomorodian/Globallink2/internal/types"
)

func newUser(t *testing.T, m *store.Memory, username string) types.User {
	t.Helper()
	u, err := m.CreateUser(context.Background(), store.NewUser{
		Username:    username,
		DisplayName: strings.ToUpper(username),
		Email:       username + "@globalink.local",
		Password:    "default",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func TestCreateUserAssignsVoiceID(t *testing.T) {
	m := store.NewMemory()
	u := newUser(t, m, "alice")
	if !strings.HasPrefix(u.VoiceID, "VC-") || len(u.VoiceID) != 7 {
		t.Fatalf("unexpected voice id %q", u.VoiceID)
	}
	got, err := m.GetUserByVoiceID(context.Background(), u.VoiceID)
	if err != nil || got.ID != u.ID {
		t.Fatalf("voice id lookup failed: %v", err)
	}
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	m := store.NewMemory()
	newUser(t, m, "alice")
	_, err := m.CreateUser(context.Background(), store.NewUser{
		Username: "alice", DisplayName: "Other", Email: "other@globalink.local",
	})
	if err != store.ErrUsernameTaken {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestUpdateUserPartial(t *testing.T) {
	m := store.NewMemory()
	u := newUser(t, m, "alice")
	bio := "works on calls"
	got, err := m.UpdateUser(context.Background(), u.ID, types.UserUpdate{Bio: &bio})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Bio != bio || got.DisplayName != u.DisplayName {
		t.Fatalf("partial update touched the wrong fields: %+v", got)
	}
}

func TestCreateCallRejectsSelfCall(t *testing.T) {
	m := store.NewMemory()
	if _, err := m.CreateCall(context.Background(), "u1", "u1"); err != store.ErrSelfCall {
		t.Fatalf("expected ErrSelfCall, got %v", err)
	}
}

func TestCallTransitions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	call, err := m.CreateCall(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	if call.Status != types.CallCalling {
		t.Fatalf("new call status %q", call.Status)
	}

	got, applied, err := m.UpdateCallStatus(ctx, call.ID, types.CallConnected, nil, "")
	if err != nil || !applied || got.Status != types.CallConnected {
		t.Fatalf("calling -> connected failed: applied=%v err=%v", applied, err)
	}

	// missed is only reachable from calling
	got, applied, err = m.UpdateCallStatus(ctx, call.ID, types.CallMissed, nil, "")
	if err != nil || applied || got.Status != types.CallConnected {
		t.Fatalf("connected -> missed should be a no-op: applied=%v", applied)
	}

	now := time.Now()
	got, applied, err = m.UpdateCallStatus(ctx, call.ID, types.CallEnded, &now, "00:45")
	if err != nil || !applied {
		t.Fatalf("connected -> ended failed: applied=%v err=%v", applied, err)
	}
	if got.Duration != "00:45" || got.EndTime == nil {
		t.Fatalf("end metadata not recorded: %+v", got)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	call, _ := m.CreateCall(ctx, "u1", "u2")

	if _, applied, _ := m.UpdateCallStatus(ctx, call.ID, types.CallMissed, nil, ""); !applied {
		t.Fatalf("calling -> missed should apply")
	}
	for _, next := range []types.CallStatus{types.CallCalling, types.CallConnected, types.CallEnded, types.CallMissed} {
		got, applied, err := m.UpdateCallStatus(ctx, call.ID, next, nil, "")
		if err != nil || applied {
			t.Fatalf("transition %q on terminal call applied", next)
		}
		if got.Status != types.CallMissed {
			t.Fatalf("terminal status changed to %q", got.Status)
		}
	}
}

func TestUpdateCallStatusUnknownCall(t *testing.T) {
	m := store.NewMemory()
	if _, _, err := m.UpdateCallStatus(context.Background(), "nope", types.CallEnded, nil, ""); err != store.ErrCallNotFound {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestConcurrentEndCallAppliesOnce(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	call, _ := m.CreateCall(ctx, "u1", "u2")
	m.UpdateCallStatus(ctx, call.ID, types.CallConnected, nil, "")

	var wg sync.WaitGroup
	applies := make(chan bool, 2)
	for _, d := range []string{"00:30", "00:31"} {
		wg.Add(1)
		go func(duration string) {
			defer wg.Done()
			now := time.Now()
			_, applied, err := m.UpdateCallStatus(ctx, call.ID, types.CallEnded, &now, duration)
			if err != nil {
				t.Errorf("end transition errored: %v", err)
			}
			applies <- applied
		}(d)
	}
	wg.Wait()
	close(applies)

	count := 0
	for applied := range applies {
		if applied {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one applied end transition, got %d", count)
	}

	got, _ := m.GetCall(ctx, call.ID)
	if got.Status != types.CallEnded || got.EndTime == nil {
		t.Fatalf("final state corrupted: %+v", got)
	}
	if got.Duration != "00:30" && got.Duration != "00:31" {
		t.Fatalf("duration corrupted: %q", got.Duration)
	}
}

func TestCallHistoryNewestFirst(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	first, _ := m.CreateCall(ctx, "u1", "u2")
	time.Sleep(2 * time.Millisecond)
	second, _ := m.CreateCall(ctx, "u3", "u1")
	time.Sleep(2 * time.Millisecond)
	third, _ := m.CreateCall(ctx, "u1", "u3")
	m.CreateCall(ctx, "u2", "u3") // u1 not involved

	history, err := m.CallHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(history))
	}
	want := []string{third.ID, second.ID, first.ID}
	for i, c := range history {
		if c.ID != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, c.ID, want[i])
		}
	}
}
