package screenshare

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadySharing means another participant holds the slot. Contention
	// signal, not a failure; callers handle it as normal control flow.
	ErrAlreadySharing = errors.New("screenshare: another participant is sharing")
	// ErrUserCancelled means the user dismissed the host capture picker.
	ErrUserCancelled = errors.New("screenshare: capture cancelled")
	// ErrCaptureFailed means the host environment rejected screen capture.
	ErrCaptureFailed = errors.New("screenshare: capture failed")
)

// Stream is an active screen capture. The capture may self-terminate (the
// user stops sharing through host UI); termination closes Done.
type Stream interface {
	Done() <-chan struct{}
	Stop()
}

// Source starts host screen capture for a participant. Start suspends until
// the host capture picker resolves and must honor ctx cancellation.
type Source interface {
	Start(ctx context.Context, participantID uuid.UUID) (Stream, error)
}

// Arbitrator enforces the session-wide invariant that at most one
// participant shares a screen at a time. Capture self-termination is
// observed on the stream's Done channel and auto-releases the slot.
type Arbitrator struct {
	mu         sync.Mutex
	source     Source
	holder     uuid.UUID // uuid.Nil when free
	pending    uuid.UUID // participant with an in-flight capture request
	stream     Stream
	gen        uint64 // invalidates watchers of superseded grants
	onReleased func(participantID uuid.UUID)
	log        *zap.Logger
}

// New creates an arbitrator over the given capture source.
func New(source Source, log *zap.Logger) *Arbitrator {
	return &Arbitrator{source: source, log: log}
}

// SetReleaseHandler registers the callback invoked when the slot is
// auto-released after the capture stream terminates on its own. The handler
// runs outside the arbitrator's lock.
func (a *Arbitrator) SetReleaseHandler(fn func(participantID uuid.UUID)) {
	a.mu.Lock()
	a.onReleased = fn
	a.mu.Unlock()
}

// Holder returns the current slot holder, if any.
func (a *Arbitrator) Holder() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == uuid.Nil {
		return uuid.Nil, false
	}
	return a.holder, true
}

// Request tries to take the slot for participantID. The capture start may
// suspend on the host picker; that wait happens outside the lock so other
// arbitration calls are not blocked. Returns ErrAlreadySharing when the slot
// is held or being requested by someone else, ErrUserCancelled when the user
// (or a cancelled ctx, e.g. the participant left) aborts the picker, and
// ErrCaptureFailed for any other capture failure.
func (a *Arbitrator) Request(ctx context.Context, participantID uuid.UUID) error {
	a.mu.Lock()
	if a.holder == participantID {
		a.mu.Unlock()
		return nil
	}
	if a.holder != uuid.Nil || a.pending != uuid.Nil {
		a.mu.Unlock()
		return ErrAlreadySharing
	}
	a.pending = participantID
	a.mu.Unlock()

	stream, err := a.source.Start(ctx, participantID)

	a.mu.Lock()
	a.pending = uuid.Nil
	if err != nil {
		a.mu.Unlock()
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, ErrUserCancelled):
			return ErrUserCancelled
		default:
			return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
	}
	if ctx.Err() != nil {
		// Granted after the requester went away; never leak the capture.
		a.mu.Unlock()
		stream.Stop()
		return ErrUserCancelled
	}
	a.holder = participantID
	a.stream = stream
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	go a.watch(gen, participantID, stream)
	a.log.Debug("screen share granted", zap.String("participant_id", participantID.String()))
	return nil
}

// watch waits for the capture stream to terminate on its own and then
// auto-releases the slot, notifying the registered handler.
func (a *Arbitrator) watch(gen uint64, participantID uuid.UUID, stream Stream) {
	<-stream.Done()

	a.mu.Lock()
	if a.gen != gen || a.holder != participantID {
		a.mu.Unlock()
		return
	}
	a.holder = uuid.Nil
	a.stream = nil
	fn := a.onReleased
	a.mu.Unlock()

	a.log.Debug("screen share ended by source", zap.String("participant_id", participantID.String()))
	if fn != nil {
		fn(participantID)
	}
}

// Release frees the slot only if held by participantID; otherwise it is a
// no-op, so a stale caller cannot revoke someone else's active share.
func (a *Arbitrator) Release(participantID uuid.UUID) {
	a.mu.Lock()
	if a.holder != participantID {
		a.mu.Unlock()
		return
	}
	stream := a.stream
	a.holder = uuid.Nil
	a.stream = nil
	a.gen++ // stale watcher must not fire the release handler
	a.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	a.log.Debug("screen share released", zap.String("participant_id", participantID.String()))
}

// ReleaseAny frees the slot regardless of holder. Used when the session ends.
func (a *Arbitrator) ReleaseAny() {
	a.mu.Lock()
	holder := a.holder
	a.mu.Unlock()
	if holder != uuid.Nil {
		a.Release(holder)
	}
}
