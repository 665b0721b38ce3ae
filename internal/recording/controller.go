package recording

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/models"
)

var (
	// ErrNotAuthorized means a non-tutor attempted to start or stop the
	// recording. Never silently downgraded.
	ErrNotAuthorized = errors.New("recording: tutor role required")
	// ErrAlreadyRecording means a start arrived while already recording.
	// Contention signal, not a failure.
	ErrAlreadyRecording = errors.New("recording: already recording")
)

// Controller owns the session's single recording flag. The flag is
// session-global and broadcast to all participants identically.
type Controller struct {
	mu    sync.Mutex
	state models.RecordingState
	clock func() time.Time
	log   *zap.Logger
}

// NewController creates an idle recording controller.
func NewController(log *zap.Logger) *Controller {
	return &Controller{clock: time.Now, log: log}
}

// SetClock overrides the time source, for tests.
func (c *Controller) SetClock(clock func() time.Time) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// Start begins recording on behalf of participantID. Only tutors may start;
// a second start while recording returns ErrAlreadyRecording and leaves
// StartedBy unchanged.
func (c *Controller) Start(participantID uuid.UUID, role models.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if role != models.RoleTutor {
		return ErrNotAuthorized
	}
	if c.state.IsRecording {
		return ErrAlreadyRecording
	}
	now := c.clock()
	id := participantID
	c.state = models.RecordingState{IsRecording: true, StartedBy: &id, StartedAt: &now}
	c.log.Info("recording started", zap.String("participant_id", participantID.String()))
	return nil
}

// Stop ends recording. Only tutors may stop; stopping while idle is a no-op,
// not an error.
func (c *Controller) Stop(participantID uuid.UUID, role models.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if role != models.RoleTutor {
		return ErrNotAuthorized
	}
	if !c.state.IsRecording {
		return nil
	}
	c.state = models.RecordingState{}
	c.log.Info("recording stopped", zap.String("participant_id", participantID.String()))
	return nil
}

// ForceStop clears the flag unconditionally. Used when the starting tutor
// leaves or the session ends.
func (c *Controller) ForceStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.IsRecording {
		return
	}
	c.state = models.RecordingState{}
	c.log.Info("recording force-stopped")
}

// State returns a copy of the current recording flag.
func (c *Controller) State() models.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	if c.state.StartedBy != nil {
		id := *c.state.StartedBy
		out.StartedBy = &id
	}
	if c.state.StartedAt != nil {
		at := *c.state.StartedAt
		out.StartedAt = &at
	}
	return out
}
