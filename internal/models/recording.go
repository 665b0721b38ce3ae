package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingState is the single session-global recording flag. StartedBy is
// always a tutor; there is no per-participant recording state.
type RecordingState struct {
	IsRecording bool       `json:"is_recording"`
	StartedBy   *uuid.UUID `json:"started_by,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}
