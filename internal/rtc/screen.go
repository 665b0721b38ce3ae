package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/brightclass/backend/internal/screenshare"
)

// screenStream implements screenshare.Stream over a relayed screen track.
// Done closes when the client stops sharing through host UI (the RTP read
// loop ends) or when the stream is stopped server-side.
type screenStream struct {
	done  chan struct{}
	once  sync.Once
	relay *relayTrack
}

func newScreenStream() *screenStream {
	return &screenStream{done: make(chan struct{})}
}

func (s *screenStream) Done() <-chan struct{} { return s.done }

func (s *screenStream) Stop() {
	if s.relay != nil {
		s.relay.setEnabled(false)
	}
	s.markDone()
}

func (s *screenStream) markDone() {
	s.once.Do(func() { close(s.done) })
}

// shareSource implements screenshare.Source for one session. Start suspends
// until the participant's client publishes its screen track (the host
// capture picker resolved) or until ctx is cancelled or the client reports
// that the user dismissed the picker.
type shareSource struct {
	engine    *Engine
	sessionID uuid.UUID
}

func (s *shareSource) Start(ctx context.Context, participantID uuid.UUID) (screenshare.Stream, error) {
	r := s.engine.getRoom(s.sessionID)
	if r == nil {
		return nil, screenshare.ErrCaptureFailed
	}
	r.mu.RLock()
	p, ok := r.peers[participantID]
	r.mu.RUnlock()
	if !ok {
		return nil, screenshare.ErrCaptureFailed
	}

	p.mu.Lock()
	if p.screen != nil {
		stream := p.screen
		p.mu.Unlock()
		return stream, nil
	}
	waiter := make(chan *screenStream, 1)
	p.screenWaiters = append(p.screenWaiters, waiter)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		s.removeWaiter(p, waiter)
		return nil, ctx.Err()
	case stream, ok := <-waiter:
		if !ok || stream == nil {
			return nil, screenshare.ErrUserCancelled
		}
		return stream, nil
	}
}

func (s *shareSource) removeWaiter(p *peer, waiter chan *screenStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.screenWaiters {
		if w == waiter {
			p.screenWaiters = append(p.screenWaiters[:i], p.screenWaiters[i+1:]...)
			return
		}
	}
}

// CancelShare resolves any pending screen capture wait for a participant as
// a user cancellation (the client reported the picker was dismissed).
func (e *Engine) CancelShare(sessionID, participantID uuid.UUID) {
	r := e.getRoom(sessionID)
	if r == nil {
		return
	}
	r.mu.RLock()
	p, ok := r.peers[participantID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	waiters := p.screenWaiters
	p.screenWaiters = nil
	p.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}
