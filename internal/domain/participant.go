// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

const (
	MaxUserIDLen      = 36
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUserIDEmpty        = errors.New("user id empty")
)

type UserID string

type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
)

// Participant is one occupant of a room as seen by the roster.
type Participant struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	IsMuted     bool      `json:"isMuted"`
	IsSpeaking  bool      `json:"isSpeaking"`
	AudioLevel  float64   `json:"audioLevel"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// NewParticipant avoids ad-hoc struct literals in adapters.
func NewParticipant(id UserID, displayName string) (*Participant, error) {
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{
		UserID:      id,
		DisplayName: displayName,
		Role:        RoleMember,
		JoinedAt:    time.Now(),
	}, nil
}
