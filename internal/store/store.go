// Package store persists the user directory and call records. The in-memory
// implementation backs tests and single-node deployments; the Postgres
// implementation is selected by configuration. Router behavior is identical
// over either.
package store

import (
	"context"
	"time"

	"github.com/AnZomorodian/Globallink2/internal/types"
)

// NewUser is the payload accepted by CreateUser. The store assigns id, voice
// id and creation time.
type NewUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	JobTitle    string `json:"jobTitle,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	BirthDate   string `json:"birthDate,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// UserStore is the directory consumed by the REST API and, read-only, by the
// signaling router (callerInfo lookup and recipient validation).
type UserStore interface {
	GetUser(ctx context.Context, id string) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	GetUserByVoiceID(ctx context.Context, voiceID string) (types.User, error)
	GetUserByEmail(ctx context.Context, email string) (types.User, error)
	CreateUser(ctx context.Context, nu NewUser) (types.User, error)
	UpdateUser(ctx context.Context, id string, upd types.UserUpdate) (types.User, error)
	SetUserOnline(ctx context.Context, id string, online bool) error
	OnlineUsers(ctx context.Context) ([]types.User, error)
}

// CallStore records calls and applies status transitions.
type CallStore interface {
	// CreateCall records a new call in status "calling" started now.
	CreateCall(ctx context.Context, callerID, recipientID string) (types.Call, error)

	GetCall(ctx context.Context, id string) (types.Call, error)

	// CallHistory lists calls where userID is caller or recipient, newest
	// start time first.
	CallHistory(ctx context.Context, userID string) ([]types.Call, error)

	// UpdateCallStatus applies a transition atomically with respect to
	// concurrent transitions on the same call. It returns the resulting
	// record and whether the transition was applied: a transition the state
	// machine disallows, including any transition on a terminal call, is a
	// no-op with applied=false, never an error. endTime and duration are
	// recorded only when the transition applies and they are non-zero.
	UpdateCallStatus(ctx context.Context, id string, status types.CallStatus, endTime *time.Time, duration string) (types.Call, bool, error)
}

// Storage is the full persistence surface the server wires together.
type Storage interface {
	UserStore
	CallStore

	// Counts feeds /api/stats: total users, total calls, calls not yet in a
	// terminal state.
	Counts(ctx context.Context) (users, calls, activeCalls int, err error)
}
