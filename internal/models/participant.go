package models

import (
	"time"

	"github.com/google/uuid"
)

// Role of a participant within a class session.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// ConnectionStatus is the transport state of one participant.
type ConnectionStatus string

const (
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
	Reconnecting ConnectionStatus = "reconnecting"
	Disconnected ConnectionStatus = "disconnected"
)

// MediaState holds a participant's own audio/video enable flags. Only the
// owning participant's control requests may mutate it.
type MediaState struct {
	AudioEnabled bool `json:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled"`
}

// Participant is one user attached to a session. IsScreenSharing is derived
// from the arbitrator's slot holder when a snapshot is built, never stored.
type Participant struct {
	ID          uuid.UUID        `json:"id"`
	DisplayName string           `json:"display_name"`
	Role        Role             `json:"role"`
	Status      ConnectionStatus `json:"connection_status"`
	Media       MediaState       `json:"media"`
	JoinedAt    time.Time        `json:"joined_at"`
	LastSeenAt  *time.Time       `json:"last_seen_at,omitempty"`
}
