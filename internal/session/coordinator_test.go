package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/media"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/recording"
	"github.com/brightclass/backend/internal/screenshare"
)

type stubTrack struct {
	mu       sync.Mutex
	kind     models.DeviceKind
	deviceID string
	closed   bool
}

func (t *stubTrack) Kind() models.DeviceKind { return t.kind }
func (t *stubTrack) DeviceID() string        { return t.deviceID }
func (t *stubTrack) SetEnabled(bool)         {}

func (t *stubTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

type stubBackend struct {
	mu     sync.Mutex
	tracks []*stubTrack
}

func (b *stubBackend) AcquireTrack(ctx context.Context, owner uuid.UUID, kind models.DeviceKind, deviceID string) (media.Track, error) {
	t := &stubTrack{kind: kind, deviceID: deviceID}
	b.mu.Lock()
	b.tracks = append(b.tracks, t)
	b.mu.Unlock()
	return t, nil
}

func (b *stubBackend) openTracks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.tracks {
		t.mu.Lock()
		if !t.closed {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

type stubStream struct {
	done chan struct{}
	once sync.Once
}

func (s *stubStream) Done() <-chan struct{} { return s.done }
func (s *stubStream) Stop()                 { s.once.Do(func() { close(s.done) }) }

type stubShareSource struct {
	mu   sync.Mutex
	last *stubStream
}

func (s *stubShareSource) Start(ctx context.Context, participantID uuid.UUID) (screenshare.Stream, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	st := &stubStream{done: make(chan struct{})}
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
	return st, nil
}

func (s *stubShareSource) lastStream() *stubStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type viewRecorder struct {
	mu    sync.Mutex
	views []models.SessionView
}

func (r *viewRecorder) record(v models.SessionView) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *viewRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func newTestCoordinator(cfg Config) (*Coordinator, *stubShareSource, *stubBackend) {
	sess := models.ClassSession{
		ID:          uuid.New(),
		Subject:     "Algebra II",
		TutorID:     uuid.New(),
		Status:      models.SessionScheduled,
		ScheduledAt: time.Now(),
	}
	src := &stubShareSource{}
	backend := &stubBackend{}
	return NewCoordinator(sess, src, backend, cfg, zap.NewNop()), src, backend
}

func participantIn(view models.SessionView, id uuid.UUID) (models.ParticipantSnapshot, bool) {
	for _, p := range view.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return models.ParticipantSnapshot{}, false
}

func waitForStatus(t *testing.T, c *Coordinator, id uuid.UUID, want models.ConnectionStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if p, ok := participantIn(c.Snapshot(), id); ok && p.Status == want {
			return
		}
		select {
		case <-deadline:
			p, _ := participantIn(c.Snapshot(), id)
			t.Fatalf("participant %v status = %s, want %s", id, p.Status, want)
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestFirstJoinStartsSession(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	tutor := uuid.New()

	snap, err := c.Join(tutor, models.RoleTutor, "Ms. Patel")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Status != models.Connecting {
		t.Fatalf("joined status = %s, want connecting", snap.Status)
	}

	view := c.Snapshot()
	if view.Status != models.SessionOngoing {
		t.Fatalf("session status = %s, want ongoing", view.Status)
	}
	if view.StartedAt == nil {
		t.Fatal("started_at not stamped on first join")
	}
	started := *view.StartedAt

	// A second join must not move StartedAt.
	if _, err := c.Join(uuid.New(), models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if got := *c.Snapshot().StartedAt; !got.Equal(started) {
		t.Fatalf("started_at moved from %v to %v", started, got)
	}
}

func TestDuplicateJoinReturnsCurrentSnapshot(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.ReportConnected(id)

	snap, err := c.Join(id, models.RoleStudent, "Dev")
	if err != nil {
		t.Fatalf("duplicate join: %v", err)
	}
	if snap.Status != models.Connected {
		t.Fatalf("duplicate join status = %s, want connected", snap.Status)
	}
	if got := len(c.Snapshot().Participants); got != 1 {
		t.Fatalf("roster size = %d, want 1", got)
	}
}

func TestJoinTerminalSessionRejected(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	tutor := uuid.New()
	if _, err := c.Join(tutor, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.EndSession(tutor); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := c.Join(uuid.New(), models.RoleStudent, "Late"); !errors.Is(err, ErrSessionNotJoinable) {
		t.Fatalf("join after end err = %v, want ErrSessionNotJoinable", err)
	}
}

func TestReconnectTimeoutExpiresToDisconnected(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{ReconnectTimeout: 10 * time.Millisecond})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.ReportConnected(id)
	c.ReportReconnecting(id)
	waitForStatus(t, c, id, models.Disconnected)

	p, _ := participantIn(c.Snapshot(), id)
	if p.LastSeenAt == nil {
		t.Fatal("last_seen_at not stamped on disconnect")
	}
}

func TestReconnectWithinWindowStaysConnected(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{ReconnectTimeout: 30 * time.Millisecond})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.ReportConnected(id)
	c.ReportReconnecting(id)
	c.ReportConnected(id)

	// Wait past the original window; the superseded timer must not fire.
	time.Sleep(60 * time.Millisecond)
	p, _ := participantIn(c.Snapshot(), id)
	if p.Status != models.Connected {
		t.Fatalf("status = %s, want connected after recovery", p.Status)
	}
	if p.LastSeenAt != nil {
		t.Fatal("last_seen_at set on a connected participant")
	}
}

func TestReportReconnectingRequiresConnected(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{ReconnectTimeout: 10 * time.Millisecond})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Still Connecting: reconnecting report is ignored.
	c.ReportReconnecting(id)
	p, _ := participantIn(c.Snapshot(), id)
	if p.Status != models.Connecting {
		t.Fatalf("status = %s, want connecting", p.Status)
	}
}

func TestToggleAudioFlipsFlag(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.ToggleAudio(id); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	p, _ := participantIn(c.Snapshot(), id)
	if !p.Media.AudioEnabled {
		t.Fatal("audio not enabled after toggle")
	}
	if err := c.ToggleAudio(id); err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	p, _ = participantIn(c.Snapshot(), id)
	if p.Media.AudioEnabled {
		t.Fatal("audio still enabled after second toggle")
	}

	if err := c.ToggleAudio(uuid.New()); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("toggle by stranger err = %v, want ErrNotParticipant", err)
	}
}

func TestAcquireAndReleaseMediaOnLeave(t *testing.T) {
	c, _, backend := newTestCoordinator(Config{})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.AcquireMedia(id, media.Constraints{Audio: true, Video: true}); err != nil {
		t.Fatalf("acquire media: %v", err)
	}
	p, _ := participantIn(c.Snapshot(), id)
	if !p.Media.AudioEnabled || !p.Media.VideoEnabled {
		t.Fatalf("media state = %+v, want both enabled", p.Media)
	}
	if backend.openTracks() != 2 {
		t.Fatalf("open tracks = %d, want 2", backend.openTracks())
	}

	c.Leave(id)
	if backend.openTracks() != 0 {
		t.Fatalf("open tracks after leave = %d, want 0", backend.openTracks())
	}
	if _, ok := participantIn(c.Snapshot(), id); ok {
		t.Fatal("participant still on roster after leave")
	}
}

func TestScreenShareExclusivity(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	first, second := uuid.New(), uuid.New()

	if _, err := c.Join(first, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(second, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := c.RequestScreenShare(first); err != nil {
		t.Fatalf("request: %v", err)
	}
	p, _ := participantIn(c.Snapshot(), first)
	if !p.IsScreenSharing {
		t.Fatal("holder not marked as sharing in snapshot")
	}

	if err := c.RequestScreenShare(second); !errors.Is(err, screenshare.ErrAlreadySharing) {
		t.Fatalf("competing request err = %v, want ErrAlreadySharing", err)
	}

	if err := c.ReleaseScreenShare(second); err != nil {
		t.Fatalf("release by non-holder: %v", err)
	}
	if p, _ := participantIn(c.Snapshot(), first); !p.IsScreenSharing {
		t.Fatal("non-holder release revoked the active share")
	}

	if err := c.ReleaseScreenShare(first); err != nil {
		t.Fatalf("release: %v", err)
	}
	if p, _ := participantIn(c.Snapshot(), first); p.IsScreenSharing {
		t.Fatal("holder still marked sharing after release")
	}
	if err := c.RequestScreenShare(second); err != nil {
		t.Fatalf("request after release: %v", err)
	}
}

func TestScreenShareAutoReleaseOnStreamEnd(t *testing.T) {
	c, src, _ := newTestCoordinator(Config{})
	id := uuid.New()

	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.RequestScreenShare(id); err != nil {
		t.Fatalf("request: %v", err)
	}

	// User stops sharing through the host UI.
	src.lastStream().Stop()

	deadline := time.After(2 * time.Second)
	for {
		p, _ := participantIn(c.Snapshot(), id)
		if !p.IsScreenSharing {
			break
		}
		select {
		case <-deadline:
			t.Fatal("share slot not auto-released after stream end")
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}

	if err := c.RequestScreenShare(id); err != nil {
		t.Fatalf("re-request after auto-release: %v", err)
	}
}

func TestLeaveReleasesShareAndRecording(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	tutor, student := uuid.New(), uuid.New()

	if _, err := c.Join(tutor, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(student, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.RequestScreenShare(tutor); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := c.StartRecording(tutor); err != nil {
		t.Fatalf("start recording: %v", err)
	}

	c.Leave(tutor)

	view := c.Snapshot()
	if view.Recording.IsRecording {
		t.Fatal("recording still running after its starter left")
	}
	if err := c.RequestScreenShare(student); err != nil {
		t.Fatalf("share slot not freed by leave: %v", err)
	}
}

func TestRecordingTutorGate(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	tutor, student := uuid.New(), uuid.New()

	if _, err := c.Join(tutor, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(student, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := c.StartRecording(student); !errors.Is(err, recording.ErrNotAuthorized) {
		t.Fatalf("student start err = %v, want ErrNotAuthorized", err)
	}
	if err := c.StartRecording(tutor); err != nil {
		t.Fatalf("tutor start: %v", err)
	}
	view := c.Snapshot()
	if !view.Recording.IsRecording || *view.Recording.StartedBy != tutor {
		t.Fatalf("recording state = %+v", view.Recording)
	}
	if err := c.StartRecording(tutor); !errors.Is(err, recording.ErrAlreadyRecording) {
		t.Fatalf("double start err = %v, want ErrAlreadyRecording", err)
	}
	if err := c.StopRecording(student); !errors.Is(err, recording.ErrNotAuthorized) {
		t.Fatalf("student stop err = %v, want ErrNotAuthorized", err)
	}
	if err := c.StopRecording(tutor); err != nil {
		t.Fatalf("tutor stop: %v", err)
	}
	if c.Snapshot().Recording.IsRecording {
		t.Fatal("recording still set after stop")
	}
}

func TestQualitySamplePublishesOnlyOnTierChange(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	id := uuid.New()
	if _, err := c.Join(id, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}

	rec := &viewRecorder{}
	c.SetSnapshotHandler(rec.record)

	good := models.QualitySample{RoundTripTimeMs: 150, PacketsLost: 0, PacketsReceived: 1000}
	c.RecordQualitySample(id, good)
	after := rec.count()
	if after != 1 {
		t.Fatalf("publishes after tier change = %d, want 1", after)
	}
	if c.Snapshot().QualityTier != models.TierGood {
		t.Fatalf("tier = %s, want good", c.Snapshot().QualityTier)
	}

	// Same tier again: no new snapshot.
	c.RecordQualitySample(id, good)
	if rec.count() != after {
		t.Fatalf("publishes = %d, want %d (unchanged tier)", rec.count(), after)
	}

	poor := models.QualitySample{RoundTripTimeMs: 900, PacketsLost: 300, PacketsReceived: 700}
	c.RecordQualitySample(id, poor)
	if rec.count() != after+1 {
		t.Fatalf("publishes = %d, want %d after tier change", rec.count(), after+1)
	}
}

func TestEndSessionTutorOnlyAndTerminal(t *testing.T) {
	c, _, backend := newTestCoordinator(Config{})
	tutor, student := uuid.New(), uuid.New()

	if _, err := c.Join(tutor, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(student, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.AcquireMedia(student, media.Constraints{Audio: true}); err != nil {
		t.Fatalf("acquire media: %v", err)
	}
	if err := c.RequestScreenShare(student); err != nil {
		t.Fatalf("request share: %v", err)
	}
	if err := c.StartRecording(tutor); err != nil {
		t.Fatalf("start recording: %v", err)
	}

	if err := c.EndSession(student); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("student end err = %v, want ErrNotAuthorized", err)
	}

	var completed models.ClassSession
	done := make(chan struct{})
	c.SetCompletionHandler(func(s models.ClassSession) {
		completed = s
		close(done)
	})

	if err := c.EndSession(tutor); err != nil {
		t.Fatalf("tutor end: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion handler never fired")
	}
	if completed.Status != models.SessionCompleted || completed.EndedAt == nil {
		t.Fatalf("completed session = %+v", completed)
	}

	view := c.Snapshot()
	if view.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", view.Status)
	}
	if view.Recording.IsRecording {
		t.Fatal("recording survived session end")
	}
	for _, p := range view.Participants {
		if p.Status != models.Disconnected {
			t.Fatalf("participant %v status = %s, want disconnected", p.ID, p.Status)
		}
		if p.IsScreenSharing {
			t.Fatal("share slot survived session end")
		}
	}
	if backend.openTracks() != 0 {
		t.Fatalf("open tracks after end = %d, want 0", backend.openTracks())
	}

	if err := c.EndSession(tutor); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("double end err = %v, want ErrSessionEnded", err)
	}
}

func TestMutationsRejectedAfterSessionEnd(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	tutor, student := uuid.New(), uuid.New()

	if _, err := c.Join(tutor, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(student, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.EndSession(tutor); err != nil {
		t.Fatalf("end: %v", err)
	}

	if err := c.StartRecording(tutor); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("start recording after end err = %v, want ErrSessionEnded", err)
	}
	if c.Snapshot().Recording.IsRecording {
		t.Fatal("recording started on a completed session")
	}
	if err := c.StopRecording(tutor); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("stop recording after end err = %v, want ErrSessionEnded", err)
	}
	if err := c.ToggleAudio(student); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("toggle after end err = %v, want ErrSessionEnded", err)
	}
	if err := c.AcquireMedia(student, media.Constraints{Audio: true}); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("acquire after end err = %v, want ErrSessionEnded", err)
	}
	if err := c.SwitchDevice(student, "mic-2", models.AudioInput); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("switch after end err = %v, want ErrSessionEnded", err)
	}
	if err := c.RequestScreenShare(student); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("share request after end err = %v, want ErrSessionEnded", err)
	}
	if err := c.ReleaseScreenShare(student); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("share release after end err = %v, want ErrSessionEnded", err)
	}

	// Connection reports after end are dropped; everyone stays disconnected.
	c.ReportConnected(student)
	if p, _ := participantIn(c.Snapshot(), student); p.Status != models.Disconnected {
		t.Fatalf("status after post-end connect report = %s, want disconnected", p.Status)
	}
}

// blockingBackend parks AcquireTrack until release closes, like a permission
// prompt the user has not answered yet.
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) AcquireTrack(ctx context.Context, owner uuid.UUID, kind models.DeviceKind, deviceID string) (media.Track, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return &stubTrack{kind: kind, deviceID: deviceID}, nil
	}
}

func TestSuspendedAcquireDoesNotBlockOtherEvents(t *testing.T) {
	backend := &blockingBackend{started: make(chan struct{}, 1), release: make(chan struct{})}
	sess := models.ClassSession{
		ID:          uuid.New(),
		Subject:     "Algebra II",
		TutorID:     uuid.New(),
		Status:      models.SessionScheduled,
		ScheduledAt: time.Now(),
	}
	c := NewCoordinator(sess, &stubShareSource{}, backend, Config{}, zap.NewNop())

	waiter := uuid.New()
	if _, err := c.Join(waiter, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- c.AcquireMedia(waiter, media.Constraints{Audio: true}) }()
	<-backend.started // prompt is now pending

	done := make(chan struct{})
	go func() {
		_ = c.ToggleAudio(waiter)
		_, _ = c.Join(uuid.New(), models.RoleStudent, "Maya")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events stalled behind a suspended media acquisition")
	}

	close(backend.release)
	if err := <-acquired; err != nil {
		t.Fatalf("acquire after prompt resolved: %v", err)
	}
	if got := len(c.Snapshot().Participants); got != 2 {
		t.Fatalf("roster size = %d, want 2", got)
	}
}

func TestLeaveRebasesQualityTier(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	stayer, leaver := uuid.New(), uuid.New()

	if _, err := c.Join(stayer, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(leaver, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}

	poor := models.QualitySample{RoundTripTimeMs: 900, PacketsLost: 300, PacketsReceived: 700}
	c.RecordQualitySample(leaver, poor)
	if got := c.Snapshot().QualityTier; got != models.TierPoor {
		t.Fatalf("tier = %s, want poor", got)
	}

	c.Leave(leaver)
	if got := c.Snapshot().QualityTier; got != models.TierExcellent {
		t.Fatalf("tier after leave = %s, want excellent", got)
	}

	// The remaining participant degrading to the same tier the leaver had
	// is still a change and must publish.
	rec := &viewRecorder{}
	c.SetSnapshotHandler(rec.record)
	c.RecordQualitySample(stayer, poor)
	if rec.count() != 1 {
		t.Fatalf("publishes after post-leave degradation = %d, want 1", rec.count())
	}
	if got := c.Snapshot().QualityTier; got != models.TierPoor {
		t.Fatalf("tier = %s, want poor", got)
	}
}

func TestCancelScheduledSessionIsTerminal(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})

	if err := c.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := c.Session().Status; got != models.SessionCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
	if _, err := c.Join(uuid.New(), models.RoleStudent, "Dev"); !errors.Is(err, ErrSessionNotJoinable) {
		t.Fatalf("join after cancel err = %v, want ErrSessionNotJoinable", err)
	}
	if err := c.Cancel(); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("double cancel err = %v, want ErrNotCancellable", err)
	}
}

func TestCancelOngoingSessionRefused(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	if _, err := c.Join(uuid.New(), models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.Cancel(); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("cancel ongoing err = %v, want ErrNotCancellable", err)
	}
	if got := c.Session().Status; got != models.SessionOngoing {
		t.Fatalf("status = %s, want ongoing", got)
	}
}

func TestSnapshotOrderingAndPeak(t *testing.T) {
	c, _, _ := newTestCoordinator(Config{})
	first, second := uuid.New(), uuid.New()

	if _, err := c.Join(first, models.RoleTutor, "Ms. Patel"); err != nil {
		t.Fatalf("join: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := c.Join(second, models.RoleStudent, "Dev"); err != nil {
		t.Fatalf("join: %v", err)
	}

	view := c.Snapshot()
	if len(view.Participants) != 2 || view.Participants[0].ID != first {
		t.Fatalf("participants not ordered by join time: %+v", view.Participants)
	}

	c.Leave(second)
	if got := c.Session().PeakParticipants; got != 2 {
		t.Fatalf("peak = %d, want 2 after a leave", got)
	}
}
