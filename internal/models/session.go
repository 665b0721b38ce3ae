package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionOngoing   SessionStatus = "ongoing"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further status transitions are accepted.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// ClassSession is a scheduled live tutoring session. Subject and scheduling
// metadata come from the scheduling service and are read-only here.
type ClassSession struct {
	ID               uuid.UUID     `json:"id"`
	Subject          string        `json:"subject"`
	TutorID          uuid.UUID     `json:"tutor_id"`
	Status           SessionStatus `json:"status"`
	ScheduledAt      time.Time     `json:"scheduled_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	PeakParticipants int           `json:"peak_participants"`
	TotalWatchTime   int64         `json:"total_watch_time"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
