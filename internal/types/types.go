package types

import (
	"encoding/json"
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Role         string    `json:"role,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Participant is the wire-level view of one room member, sent in
// room-state snapshots.
type Participant struct {
	UserId    int             `json:"userId"`
	UserName  string          `json:"userName"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	Selection string          `json:"selection,omitempty"`
}

// RoomInfo is a read-only room summary for the diagnostics endpoint.
type RoomInfo struct {
	Id               string    `json:"id"`
	ParticipantCount int       `json:"participantCount"`
	LastActivity     time.Time `json:"lastActivity"`
}
