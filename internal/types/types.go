package types

import "time"

// User is a directory entry. The password is write-only: it never appears in
// API responses or relayed callerInfo.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	Password     string    `json:"-"`
	VoiceID      string    `json:"voiceId"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	CountryCode  string    `json:"countryCode,omitempty"`
	CompanyName  string    `json:"companyName,omitempty"`
	JobTitle     string    `json:"jobTitle,omitempty"`
	ProfileImage string    `json:"profileImage,omitempty"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	BirthDate    string    `json:"birthDate,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserUpdate carries optional profile changes for a PATCH. Nil fields are
// left untouched. Username, voice id and online status are not updatable
// through this path.
type UserUpdate struct {
	DisplayName  *string `json:"displayName,omitempty"`
	Email        *string `json:"email,omitempty"`
	PhoneNumber  *string `json:"phoneNumber,omitempty"`
	CountryCode  *string `json:"countryCode,omitempty"`
	CompanyName  *string `json:"companyName,omitempty"`
	JobTitle     *string `json:"jobTitle,omitempty"`
	ProfileImage *string `json:"profileImage,omitempty"`
	FirstName    *string `json:"firstName,omitempty"`
	LastName     *string `json:"lastName,omitempty"`
	BirthDate    *string `json:"birthDate,omitempty"`
	Bio          *string `json:"bio,omitempty"`
}

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	CallCalling   CallStatus = "calling"
	CallConnected CallStatus = "connected"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
)

// Terminal reports whether the status can never change again.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallMissed
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Terminal states allow nothing; connected can only end.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallCalling:
		return next == CallConnected || next == CallEnded || next == CallMissed
	case CallConnected:
		return next == CallEnded
	default:
		return false
	}
}

// Call correlates the two parties of one attempted or ongoing conversation.
// Once Status reaches a terminal value the record is immutable.
type Call struct {
	ID          string     `json:"id"`
	CallerID    string     `json:"callerId"`
	RecipientID string     `json:"recipientId"`
	Status      CallStatus `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

// OtherParty resolves the counterparty of userID on this call, and whether
// userID participates at all.
func (c Call) OtherParty(userID string) (string, bool) {
	switch userID {
	case c.CallerID:
		return c.RecipientID, true
	case c.RecipientID:
		return c.CallerID, true
	default:
		return "", false
	}
}

// CallWithUsers is a history row with both parties' directory entries
// attached for the client.
type CallWithUsers struct {
	Call
	CallerInfo    *User `json:"callerInfo,omitempty"`
	RecipientInfo *User `json:"recipientInfo,omitempty"`
}

// ServerStats is the /api/stats payload.
type ServerStats struct {
	ConnectedClients int `json:"connected_clients"`
	OnlineUsers      int `json:"online_users"`
	TotalUsers       int `json:"total_users"`
	TotalCalls       int `json:"total_calls"`
	ActiveCalls      int `json:"active_calls"`
}
