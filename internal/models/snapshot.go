package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantSnapshot is the immutable per-participant view embedded in a
// SessionView. IsScreenSharing is true iff this participant holds the
// session's screen-share slot at snapshot time.
type ParticipantSnapshot struct {
	ID              uuid.UUID        `json:"id"`
	DisplayName     string           `json:"display_name"`
	Role            Role             `json:"role"`
	Status          ConnectionStatus `json:"connection_status"`
	Media           MediaState       `json:"media"`
	IsScreenSharing bool             `json:"is_screen_sharing"`
	JoinedAt        time.Time        `json:"joined_at"`
	LastSeenAt      *time.Time       `json:"last_seen_at,omitempty"`
}

// SessionView is a consistent, immutable snapshot of one session. Consumers
// replace their whole view on each update instead of patching fields.
type SessionView struct {
	SessionID    uuid.UUID             `json:"session_id"`
	Subject      string                `json:"subject"`
	Status       SessionStatus         `json:"status"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	Participants []ParticipantSnapshot `json:"participants"`
	Recording    RecordingState        `json:"recording"`
	QualityTier  QualityTier           `json:"quality_tier"`
	TakenAt      time.Time             `json:"taken_at"`
}
