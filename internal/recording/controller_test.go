package recording

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/models"
)

func TestStartRequiresTutor(t *testing.T) {
	c := NewController(zap.NewNop())
	if err := c.Start(uuid.New(), models.RoleStudent); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("student start err = %v, want ErrNotAuthorized", err)
	}
	if c.State().IsRecording {
		t.Fatal("recording flag set after rejected start")
	}
}

func TestStartSetsStateOnce(t *testing.T) {
	c := NewController(zap.NewNop())
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	tutor := uuid.New()
	if err := c.Start(tutor, models.RoleTutor); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := c.State()
	if !st.IsRecording || st.StartedBy == nil || *st.StartedBy != tutor {
		t.Fatalf("state = %+v, want recording by %v", st, tutor)
	}
	if st.StartedAt == nil || !st.StartedAt.Equal(now) {
		t.Fatalf("started at = %v, want %v", st.StartedAt, now)
	}

	other := uuid.New()
	if err := c.Start(other, models.RoleTutor); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second start err = %v, want ErrAlreadyRecording", err)
	}
	if st := c.State(); *st.StartedBy != tutor {
		t.Fatalf("started_by changed to %v", *st.StartedBy)
	}
}

func TestStopRequiresTutor(t *testing.T) {
	c := NewController(zap.NewNop())
	tutor := uuid.New()
	if err := c.Start(tutor, models.RoleTutor); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(uuid.New(), models.RoleStudent); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("student stop err = %v, want ErrNotAuthorized", err)
	}
	if !c.State().IsRecording {
		t.Fatal("recording stopped by student")
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	c := NewController(zap.NewNop())
	if err := c.Stop(uuid.New(), models.RoleTutor); err != nil {
		t.Fatalf("idle stop err = %v, want nil", err)
	}
}

func TestStopClearsState(t *testing.T) {
	c := NewController(zap.NewNop())
	tutor := uuid.New()
	if err := c.Start(tutor, models.RoleTutor); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(tutor, models.RoleTutor); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st := c.State()
	if st.IsRecording || st.StartedBy != nil || st.StartedAt != nil {
		t.Fatalf("state after stop = %+v, want zero", st)
	}
}

func TestForceStop(t *testing.T) {
	c := NewController(zap.NewNop())
	c.ForceStop() // idle: no-op

	if err := c.Start(uuid.New(), models.RoleTutor); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.ForceStop()
	if c.State().IsRecording {
		t.Fatal("recording still set after force stop")
	}
}

func TestStateReturnsCopy(t *testing.T) {
	c := NewController(zap.NewNop())
	if err := c.Start(uuid.New(), models.RoleTutor); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := c.State()
	*st.StartedBy = uuid.Nil
	if got := c.State(); *got.StartedBy == uuid.Nil {
		t.Fatal("mutating a returned state leaked into the controller")
	}
}
