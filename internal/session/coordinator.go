package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/media"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/quality"
	"github.com/brightclass/backend/internal/recording"
	"github.com/brightclass/backend/internal/screenshare"
)

// DefaultReconnectTimeout bounds how long a participant may stay in
// Reconnecting before being moved to Disconnected.
const DefaultReconnectTimeout = 30 * time.Second

// Config tunes per-session coordination behavior.
type Config struct {
	ReconnectTimeout time.Duration
}

func (c Config) reconnectTimeout() time.Duration {
	if c.ReconnectTimeout <= 0 {
		return DefaultReconnectTimeout
	}
	return c.ReconnectTimeout
}

// participantState is the coordinator-private record for one roster entry.
type participantState struct {
	p            models.Participant
	media        *media.Controller
	opsCtx       context.Context    // cancelled on leave/end; bounds suspending ops
	cancelOps    context.CancelFunc
	reconnectGen uint64 // invalidates a pending reconnect timer
}

// Coordinator is the single logical owner of one session's live state: the
// participant roster, lifecycle status, and the exclusive screen-share and
// recording resources. All structural mutations are serialized behind one
// mutex; operations that can suspend (media acquisition, the capture picker)
// run outside the critical section and complete as events.
type Coordinator struct {
	mu     sync.Mutex
	sess   models.ClassSession
	roster map[uuid.UUID]*participantState

	share   *screenshare.Arbitrator
	rec     *recording.Controller
	quality *quality.Monitor
	backend media.Backend

	cfg      Config
	clock    func() time.Time
	log      *zap.Logger
	lastTier models.QualityTier

	onSnapshot  func(models.SessionView)
	onCompleted func(models.ClassSession)
}

// NewCoordinator creates a coordinator for a scheduled session. shareSource
// backs the screen-share arbitrator; backend backs each participant's local
// media controller.
func NewCoordinator(sess models.ClassSession, shareSource screenshare.Source, backend media.Backend, cfg Config, log *zap.Logger) *Coordinator {
	c := &Coordinator{
		sess:     sess,
		roster:   make(map[uuid.UUID]*participantState),
		rec:      recording.NewController(log),
		quality:  quality.NewMonitor(),
		backend:  backend,
		cfg:      cfg,
		clock:    time.Now,
		log:      log.With(zap.String("session_id", sess.ID.String())),
		lastTier: models.TierExcellent,
	}
	c.share = screenshare.New(shareSource, c.log)
	c.share.SetReleaseHandler(c.handleShareEnded)
	return c
}

// SetClock overrides the time source, for tests.
func (c *Coordinator) SetClock(clock func() time.Time) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// SetSnapshotHandler registers the subscriber notified with a fresh
// immutable view after every state change. Runs outside the lock.
func (c *Coordinator) SetSnapshotHandler(fn func(models.SessionView)) {
	c.mu.Lock()
	c.onSnapshot = fn
	c.mu.Unlock()
}

// SetCompletionHandler registers the hook invoked once when the session
// transitions to Completed.
func (c *Coordinator) SetCompletionHandler(fn func(models.ClassSession)) {
	c.mu.Lock()
	c.onCompleted = fn
	c.mu.Unlock()
}

// Session returns a copy of the session record.
func (c *Coordinator) Session() models.ClassSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Join adds a participant to the roster in Connecting state. The first join
// of a scheduled session transitions it to Ongoing and stamps StartedAt,
// exactly once. A join for an id already on the roster returns its current
// snapshot unchanged (late duplicate from the transport).
func (c *Coordinator) Join(participantID uuid.UUID, role models.Role, displayName string) (models.ParticipantSnapshot, error) {
	c.mu.Lock()
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return models.ParticipantSnapshot{}, ErrSessionNotJoinable
	}
	if st, ok := c.roster[participantID]; ok {
		snap := c.participantSnapshotLocked(st)
		c.mu.Unlock()
		return snap, nil
	}

	now := c.clock()
	if c.sess.Status == models.SessionScheduled {
		c.sess.Status = models.SessionOngoing
		started := now
		c.sess.StartedAt = &started
	}

	opsCtx, cancel := context.WithCancel(context.Background())
	st := &participantState{
		p: models.Participant{
			ID:          participantID,
			DisplayName: displayName,
			Role:        role,
			Status:      models.Connecting,
			JoinedAt:    now,
		},
		media:     media.NewController(participantID, c.backend, c.log),
		opsCtx:    opsCtx,
		cancelOps: cancel,
	}
	c.roster[participantID] = st
	if n := len(c.roster); n > c.sess.PeakParticipants {
		c.sess.PeakParticipants = n
	}
	snap := c.participantSnapshotLocked(st)
	view := c.buildViewLocked()
	c.mu.Unlock()

	c.log.Info("participant joined",
		zap.String("participant_id", participantID.String()),
		zap.String("role", string(role)))
	c.publish(view)
	return snap, nil
}

// ReportConnected moves a participant to Connected. The transport decides
// when to re-signal this after a drop; stale ids are ignored.
func (c *Coordinator) ReportConnected(participantID uuid.UUID) {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok || c.sess.Status.Terminal() || st.p.Status == models.Connected {
		c.mu.Unlock()
		return
	}
	st.p.Status = models.Connected
	st.p.LastSeenAt = nil
	st.reconnectGen++ // cancel any pending reconnect expiry
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
}

// ReportReconnecting moves a Connected participant to Reconnecting and arms
// the reconnect timeout. Ignored for unknown participants or other states.
func (c *Coordinator) ReportReconnecting(participantID uuid.UUID) {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok || c.sess.Status.Terminal() || st.p.Status != models.Connected {
		c.mu.Unlock()
		return
	}
	st.p.Status = models.Reconnecting
	st.reconnectGen++
	gen := st.reconnectGen
	timeout := c.cfg.reconnectTimeout()
	view := c.buildViewLocked()
	c.mu.Unlock()

	time.AfterFunc(timeout, func() { c.expireReconnect(participantID, gen) })
	c.publish(view)
}

// expireReconnect fires when the reconnect window elapses. The generation
// check drops timers superseded by a reconnect, disconnect, or leave.
func (c *Coordinator) expireReconnect(participantID uuid.UUID, gen uint64) {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok || st.reconnectGen != gen || st.p.Status != models.Reconnecting {
		c.mu.Unlock()
		return
	}
	st.p.Status = models.Disconnected
	now := c.clock()
	st.p.LastSeenAt = &now
	view := c.buildViewLocked()
	c.mu.Unlock()

	c.log.Info("reconnect window elapsed", zap.String("participant_id", participantID.String()))
	c.publish(view)
}

// ReportDisconnected moves a participant to Disconnected without removing
// them from the roster, so they can still reconnect. Ignored for unknown
// participants.
func (c *Coordinator) ReportDisconnected(participantID uuid.UUID) {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok || st.p.Status == models.Disconnected {
		c.mu.Unlock()
		return
	}
	st.p.Status = models.Disconnected
	now := c.clock()
	st.p.LastSeenAt = &now
	st.reconnectGen++
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
}

// Leave removes a participant from the roster regardless of connection
// state. Exclusive holds are handed back first: the screen-share slot is
// released if held and the recording is stopped if this participant started
// it. In-flight suspending operations are cancelled; cancellation still
// guarantees eventual release of any capture they produce.
func (c *Coordinator) Leave(participantID uuid.UUID) {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.roster, participantID)
	st.cancelOps()
	st.reconnectGen++
	c.quality.Remove(participantID)
	// Dropping the samples can move the aggregate tier; rebase the
	// change detector so the next genuine shift still publishes.
	c.lastTier = c.quality.CurrentTier()
	if rec := c.rec.State(); rec.StartedBy != nil && *rec.StartedBy == participantID {
		c.rec.ForceStop()
	}
	c.mu.Unlock()

	c.share.Release(participantID)
	st.media.Release()

	c.mu.Lock()
	view := c.buildViewLocked()
	c.mu.Unlock()

	c.log.Info("participant left", zap.String("participant_id", participantID.String()))
	c.publish(view)
}

// ToggleAudio flips the participant's own audio flag and applies it to any
// held capture stream. No participant may toggle another's media state.
func (c *Coordinator) ToggleAudio(participantID uuid.UUID) error {
	return c.toggleMedia(participantID, models.AudioInput)
}

// ToggleVideo flips the participant's own video flag and applies it to any
// held capture stream.
func (c *Coordinator) ToggleVideo(participantID uuid.UUID) error {
	return c.toggleMedia(participantID, models.VideoInput)
}

func (c *Coordinator) toggleMedia(participantID uuid.UUID, kind models.DeviceKind) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	switch kind {
	case models.AudioInput:
		st.p.Media.AudioEnabled = !st.p.Media.AudioEnabled
		st.media.SetAudioEnabled(st.p.Media.AudioEnabled)
	case models.VideoInput:
		st.p.Media.VideoEnabled = !st.p.Media.VideoEnabled
		st.media.SetVideoEnabled(st.p.Media.VideoEnabled)
	}
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
	return nil
}

// AcquireMedia captures local tracks for a participant through their media
// controller. The acquisition may suspend on the host permission prompt; it
// runs outside the coordinator's critical section and is cancelled if the
// participant leaves meanwhile.
func (c *Coordinator) AcquireMedia(participantID uuid.UUID, want media.Constraints) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	ctrl, opsCtx := st.media, st.opsCtx
	c.mu.Unlock()

	if _, err := ctrl.Acquire(opsCtx, want); err != nil {
		return err
	}

	c.mu.Lock()
	if st, ok := c.roster[participantID]; ok {
		st.p.Media = ctrl.State()
	} else {
		// Left during acquisition; Leave already released the controller,
		// and Release is idempotent against the late grant.
		ctrl.Release()
	}
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
	return nil
}

// SwitchDevice swaps one capture kind to a different device. The old device
// stays active if acquiring the new one fails.
func (c *Coordinator) SwitchDevice(participantID uuid.UUID, deviceID string, kind models.DeviceKind) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	ctrl, opsCtx := st.media, st.opsCtx
	c.mu.Unlock()

	return ctrl.SwitchDevice(opsCtx, deviceID, kind)
}

// RequestScreenShare asks the arbitrator for the session's single share
// slot. The capture picker may suspend; the wait happens outside the
// coordinator lock so unrelated events keep flowing.
func (c *Coordinator) RequestScreenShare(participantID uuid.UUID) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	opsCtx := st.opsCtx
	c.mu.Unlock()

	if err := c.share.Request(opsCtx, participantID); err != nil {
		return err
	}

	c.mu.Lock()
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
	return nil
}

// ReleaseScreenShare frees the slot if this participant holds it; a stale
// caller cannot revoke someone else's share.
func (c *Coordinator) ReleaseScreenShare(participantID uuid.UUID) error {
	c.mu.Lock()
	_, ok := c.roster[participantID]
	terminal := c.sess.Status.Terminal()
	c.mu.Unlock()
	if !ok {
		return ErrNotParticipant
	}
	if terminal {
		return ErrSessionEnded
	}

	c.share.Release(participantID)

	c.mu.Lock()
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
	return nil
}

// handleShareEnded is the arbitrator's auto-release event: the capture
// stream terminated outside any explicit API call (user stopped sharing
// through host UI) and the slot is already free.
func (c *Coordinator) handleShareEnded(participantID uuid.UUID) {
	c.mu.Lock()
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.log.Info("screen share ended", zap.String("participant_id", participantID.String()))
	c.publish(view)
}

// StartRecording starts the session-global recording on behalf of a tutor.
func (c *Coordinator) StartRecording(participantID uuid.UUID) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	err := c.rec.Start(participantID, st.p.Role)
	var view models.SessionView
	if err == nil {
		view = c.buildViewLocked()
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish(view)
	return nil
}

// StopRecording stops the recording; a stop while idle is a no-op.
func (c *Coordinator) StopRecording(participantID uuid.UUID) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	err := c.rec.Stop(participantID, st.p.Role)
	var view models.SessionView
	if err == nil {
		view = c.buildViewLocked()
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish(view)
	return nil
}

// RecordQualitySample ingests a transport sample for a participant. The
// published snapshot is refreshed only when the aggregate tier changes.
func (c *Coordinator) RecordQualitySample(participantID uuid.UUID, sample models.QualitySample) {
	c.mu.Lock()
	if _, ok := c.roster[participantID]; !ok {
		c.mu.Unlock()
		return
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.quality.Record(participantID, sample)
	tier := c.quality.CurrentTier()
	if tier == c.lastTier {
		c.mu.Unlock()
		return
	}
	c.lastTier = tier
	view := c.buildViewLocked()
	c.mu.Unlock()
	c.publish(view)
}

// EndSession completes the session: tutor-only. All participants are
// forcibly disconnected, any recording stops, and the share slot is freed.
// Completed is terminal.
func (c *Coordinator) EndSession(participantID uuid.UUID) error {
	c.mu.Lock()
	st, ok := c.roster[participantID]
	if !ok {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	if st.p.Role != models.RoleTutor {
		c.mu.Unlock()
		return ErrNotAuthorized
	}
	if c.sess.Status.Terminal() {
		c.mu.Unlock()
		return ErrSessionEnded
	}

	now := c.clock()
	c.sess.Status = models.SessionCompleted
	c.sess.EndedAt = &now
	c.rec.ForceStop()
	c.quality.Reset()
	c.lastTier = models.TierExcellent

	released := make([]*participantState, 0, len(c.roster))
	for _, ps := range c.roster {
		if ps.p.Status != models.Disconnected {
			ps.p.Status = models.Disconnected
			seen := now
			ps.p.LastSeenAt = &seen
		}
		ps.cancelOps()
		ps.reconnectGen++
		released = append(released, ps)
	}
	sess := c.sess
	onCompleted := c.onCompleted
	c.mu.Unlock()

	c.share.ReleaseAny()
	for _, ps := range released {
		ps.media.Release()
	}

	c.mu.Lock()
	view := c.buildViewLocked()
	c.mu.Unlock()

	c.log.Info("session completed", zap.String("ended_by", participantID.String()))
	c.publish(view)
	if onCompleted != nil {
		onCompleted(sess)
	}
	return nil
}

// Cancel moves a still-Scheduled session to Cancelled, which is terminal.
// A session that already started (or already ended) is refused; ending an
// ongoing session goes through EndSession.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	if c.sess.Status != models.SessionScheduled {
		c.mu.Unlock()
		return ErrNotCancellable
	}
	c.sess.Status = models.SessionCancelled
	view := c.buildViewLocked()
	c.mu.Unlock()

	c.log.Info("session cancelled")
	c.publish(view)
	return nil
}

// Snapshot returns a consistent, immutable view of the session. A concurrent
// reader never observes a partially-applied mutation.
func (c *Coordinator) Snapshot() models.SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildViewLocked()
}

func (c *Coordinator) participantSnapshotLocked(st *participantState) models.ParticipantSnapshot {
	holder, held := c.share.Holder()
	snap := models.ParticipantSnapshot{
		ID:              st.p.ID,
		DisplayName:     st.p.DisplayName,
		Role:            st.p.Role,
		Status:          st.p.Status,
		Media:           st.p.Media,
		IsScreenSharing: held && holder == st.p.ID,
		JoinedAt:        st.p.JoinedAt,
	}
	if st.p.LastSeenAt != nil {
		seen := *st.p.LastSeenAt
		snap.LastSeenAt = &seen
	}
	return snap
}

func (c *Coordinator) buildViewLocked() models.SessionView {
	view := models.SessionView{
		SessionID:    c.sess.ID,
		Subject:      c.sess.Subject,
		Status:       c.sess.Status,
		Participants: make([]models.ParticipantSnapshot, 0, len(c.roster)),
		Recording:    c.rec.State(),
		QualityTier:  c.quality.CurrentTier(),
		TakenAt:      c.clock(),
	}
	if c.sess.StartedAt != nil {
		started := *c.sess.StartedAt
		view.StartedAt = &started
	}
	for _, st := range c.roster {
		view.Participants = append(view.Participants, c.participantSnapshotLocked(st))
	}
	sort.Slice(view.Participants, func(i, j int) bool {
		a, b := view.Participants[i], view.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return view
}

func (c *Coordinator) publish(view models.SessionView) {
	c.mu.Lock()
	fn := c.onSnapshot
	c.mu.Unlock()
	if fn != nil {
		fn(view)
	}
}
