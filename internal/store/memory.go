package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnZomorodian/Globallink2/internal/types"
)

// Memory is the in-process Storage implementation. All mutating operations
// take the write lock, so call transitions are atomic under concurrent
// handlers.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*types.User
	calls map[string]*types.Call
}

var _ Storage = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*types.User),
		calls: make(map[string]*types.Call),
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return types.User{}, ErrUserNotFound
	}
	return *u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return *u, nil
		}
	}
	return types.User{}, ErrUserNotFound
}

func (m *Memory) GetUserByVoiceID(_ context.Context, voiceID string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.VoiceID == voiceID {
			return *u, nil
		}
	}
	return types.User{}, ErrUserNotFound
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return types.User{}, ErrUserNotFound
}

func (m *Memory) CreateUser(_ context.Context, nu NewUser) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == nu.Username {
			return types.User{}, ErrUsernameTaken
		}
		if nu.Email != "" && u.Email == nu.Email {
			return types.User{}, ErrEmailTaken
		}
	}
	u := &types.User{
		ID:          uuid.NewString(),
		Username:    nu.Username,
		DisplayName: nu.DisplayName,
		Email:       nu.Email,
		Password:    nu.Password,
		VoiceID:     newVoiceID(),
		PhoneNumber: nu.PhoneNumber,
		CountryCode: nu.CountryCode,
		CompanyName: nu.CompanyName,
		JobTitle:    nu.JobTitle,
		FirstName:   nu.FirstName,
		LastName:    nu.LastName,
		BirthDate:   nu.BirthDate,
		Bio:         nu.Bio,
		CreatedAt:   time.Now(),
	}
	m.users[u.ID] = u
	return *u, nil
}

func (m *Memory) UpdateUser(_ context.Context, id string, upd types.UserUpdate) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return types.User{}, ErrUserNotFound
	}
	applyUpdate(u, upd)
	return *u, nil
}

func (m *Memory) SetUserOnline(_ context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsOnline = online
	return nil
}

func (m *Memory) OnlineUsers(_ context.Context) ([]types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.User
	for _, u := range m.users {
		if u.IsOnline {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Memory) CreateCall(_ context.Context, callerID, recipientID string) (types.Call, error) {
	if callerID == recipientID {
		return types.Call{}, ErrSelfCall
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &types.Call{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		RecipientID: recipientID,
		Status:      types.CallCalling,
		StartTime:   time.Now(),
	}
	m.calls[c.ID] = c
	return *c, nil
}

func (m *Memory) GetCall(_ context.Context, id string) (types.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	if !ok {
		return types.Call{}, ErrCallNotFound
	}
	return *c, nil
}

func (m *Memory) CallHistory(_ context.Context, userID string) ([]types.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Call
	for _, c := range m.calls {
		if c.CallerID == userID || c.RecipientID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *Memory) UpdateCallStatus(_ context.Context, id string, status types.CallStatus, endTime *time.Time, duration string) (types.Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return types.Call{}, false, ErrCallNotFound
	}
	if !c.Status.CanTransitionTo(status) {
		return *c, false, nil
	}
	c.Status = status
	if endTime != nil {
		c.EndTime = endTime
	}
	if duration != "" {
		c.Duration = duration
	}
	return *c, true, nil
}

func (m *Memory) Counts(_ context.Context) (int, int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := 0
	for _, c := range m.calls {
		if !c.Status.Terminal() {
			active++
		}
	}
	return len(m.users), len(m.calls), active, nil
}

func applyUpdate(u *types.User, upd types.UserUpdate) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.DisplayName, upd.DisplayName)
	set(&u.Email, upd.Email)
	set(&u.PhoneNumber, upd.PhoneNumber)
	set(&u.CountryCode, upd.CountryCode)
	set(&u.CompanyName, upd.CompanyName)
	set(&u.JobTitle, upd.JobTitle)
	set(&u.ProfileImage, upd.ProfileImage)
	set(&u.FirstName, upd.FirstName)
	set(&u.LastName, upd.LastName)
	set(&u.BirthDate, upd.BirthDate)
	set(&u.Bio, upd.Bio)
}

// newVoiceID generates the human-shareable address, e.g. "VC-4821".
func newVoiceID() string {
	return fmt.Sprintf("VC-%04d", 1000+rand.Intn(9000))
}
