package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/models"
)

type fakeTrack struct {
	mu       sync.Mutex
	kind     models.DeviceKind
	deviceID string
	enabled  bool
	closed   bool
}

func (t *fakeTrack) Kind() models.DeviceKind { return t.kind }
func (t *fakeTrack) DeviceID() string        { return t.deviceID }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeBackend struct {
	mu     sync.Mutex
	errFor map[models.DeviceKind]error
	tracks []*fakeTrack
}

func (b *fakeBackend) AcquireTrack(ctx context.Context, owner uuid.UUID, kind models.DeviceKind, deviceID string) (Track, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errFor[kind]; err != nil {
		return nil, err
	}
	t := &fakeTrack{kind: kind, deviceID: deviceID, enabled: true}
	b.tracks = append(b.tracks, t)
	return t, nil
}

func (b *fakeBackend) tracksOf(kind models.DeviceKind) []*fakeTrack {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*fakeTrack
	for _, t := range b.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func newTestController(b Backend) *Controller {
	return NewController(uuid.New(), b, zap.NewNop())
}

func TestAcquireBothKinds(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)

	h, err := c.Acquire(context.Background(), Constraints{Audio: true, Video: true, AudioDeviceID: "mic-1", VideoDeviceID: "cam-1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h.AudioDeviceID() != "mic-1" || h.VideoDeviceID() != "cam-1" {
		t.Fatalf("handle devices = %q/%q", h.AudioDeviceID(), h.VideoDeviceID())
	}
	st := c.State()
	if !st.AudioEnabled || !st.VideoEnabled {
		t.Fatalf("state = %+v, want both enabled", st)
	}
	if !c.Held() {
		t.Fatal("controller not holding a stream")
	}
}

func TestAcquireWhileHeldReturnsSameHandle(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)

	first, err := c.Acquire(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := c.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if first != second {
		t.Fatal("re-acquire returned a different handle")
	}
	if len(b.tracks) != 1 {
		t.Fatalf("backend acquired %d tracks, want 1", len(b.tracks))
	}
}

func TestAcquirePartialFailureRollsBack(t *testing.T) {
	b := &fakeBackend{errFor: map[models.DeviceKind]error{models.VideoInput: ErrPermissionDenied}}
	c := newTestController(b)

	_, err := c.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	audio := b.tracksOf(models.AudioInput)
	if len(audio) != 1 || !audio[0].isClosed() {
		t.Fatal("audio track not closed after video failure")
	}
	if c.Held() {
		t.Fatal("partial stream left behind")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)

	if _, err := c.Acquire(context.Background(), Constraints{Audio: true, Video: true}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	c.Release()
	c.Release()
	for _, tr := range b.tracks {
		if !tr.isClosed() {
			t.Fatal("track left open after release")
		}
	}
	if c.Held() || c.State() != (models.MediaState{}) {
		t.Fatal("state not cleared after release")
	}
}

func TestToggleWithoutStreamIsNoop(t *testing.T) {
	c := newTestController(&fakeBackend{})
	c.SetAudioEnabled(true)
	c.SetVideoEnabled(true)
	if st := c.State(); st.AudioEnabled || st.VideoEnabled {
		t.Fatalf("state = %+v, want zero without a stream", st)
	}
}

func TestSetEnabledAppliesToTrack(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)

	if _, err := c.Acquire(context.Background(), Constraints{Audio: true}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	c.SetAudioEnabled(false)
	audio := b.tracksOf(models.AudioInput)[0]
	audio.mu.Lock()
	enabled := audio.enabled
	audio.mu.Unlock()
	if enabled {
		t.Fatal("track still enabled after mute")
	}
	if c.State().AudioEnabled {
		t.Fatal("state still enabled after mute")
	}
}

func TestSwitchDeviceWithoutStreamIsNoop(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)
	if err := c.SwitchDevice(context.Background(), "cam-2", models.VideoInput); err != nil {
		t.Fatalf("switch without stream err = %v, want nil", err)
	}
	if len(b.tracks) != 0 {
		t.Fatal("backend touched by stale switch")
	}
}

func TestSwitchDeviceReplacesTrack(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)

	if _, err := c.Acquire(context.Background(), Constraints{Video: true, VideoDeviceID: "cam-1"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	c.SetVideoEnabled(false)

	if err := c.SwitchDevice(context.Background(), "cam-2", models.VideoInput); err != nil {
		t.Fatalf("switch: %v", err)
	}
	vids := b.tracksOf(models.VideoInput)
	if len(vids) != 2 {
		t.Fatalf("video tracks = %d, want 2", len(vids))
	}
	if !vids[0].isClosed() {
		t.Fatal("old track not closed after switch")
	}
	vids[1].mu.Lock()
	enabled := vids[1].enabled
	vids[1].mu.Unlock()
	if enabled {
		t.Fatal("new track did not inherit the muted state")
	}
}

// gatedBackend parks AcquireTrack until release closes, like an unanswered
// permission prompt.
type gatedBackend struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	tracks  []*fakeTrack
}

func (b *gatedBackend) AcquireTrack(ctx context.Context, owner uuid.UUID, kind models.DeviceKind, deviceID string) (Track, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
	}
	tr := &fakeTrack{kind: kind, deviceID: deviceID, enabled: true}
	b.mu.Lock()
	b.tracks = append(b.tracks, tr)
	b.mu.Unlock()
	return tr, nil
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func TestTogglesStayResponsiveDuringSuspendedAcquire(t *testing.T) {
	b := newGatedBackend()
	c := newTestController(b)

	res := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background(), Constraints{Audio: true})
		res <- err
	}()
	<-b.started

	done := make(chan struct{})
	go func() {
		c.SetAudioEnabled(true)
		c.SetVideoEnabled(false)
		_ = c.Held()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("toggle blocked behind a suspended acquisition")
	}

	close(b.release)
	if err := <-res; err != nil {
		t.Fatalf("acquire after prompt resolved: %v", err)
	}
	if !c.Held() {
		t.Fatal("stream not installed after the prompt resolved")
	}
}

func TestAcquireWhileSuspendedReturnsInProgress(t *testing.T) {
	b := newGatedBackend()
	c := newTestController(b)

	res := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background(), Constraints{Audio: true})
		res <- err
	}()
	<-b.started

	if _, err := c.Acquire(context.Background(), Constraints{Audio: true}); !errors.Is(err, ErrAcquireInProgress) {
		t.Fatalf("second acquire err = %v, want ErrAcquireInProgress", err)
	}

	close(b.release)
	if err := <-res; err != nil {
		t.Fatalf("first acquire: %v", err)
	}
}

func TestReleaseDuringSuspendedAcquireDropsGrant(t *testing.T) {
	b := newGatedBackend()
	c := newTestController(b)

	res := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background(), Constraints{Audio: true})
		res <- err
	}()
	<-b.started

	c.Release()
	close(b.release)

	if err := <-res; !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("acquire resolved after release err = %v, want ErrDeviceUnavailable", err)
	}
	if c.Held() {
		t.Fatal("stream installed despite the release")
	}
	b.mu.Lock()
	track := b.tracks[0]
	b.mu.Unlock()
	if !track.isClosed() {
		t.Fatal("grant outlived the release")
	}
}

func TestSwitchDeviceFailureKeepsOldTrack(t *testing.T) {
	b := &fakeBackend{}
	c := newTestController(b)

	if _, err := c.Acquire(context.Background(), Constraints{Video: true, VideoDeviceID: "cam-1"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b.mu.Lock()
	b.errFor = map[models.DeviceKind]error{models.VideoInput: ErrDeviceUnavailable}
	b.mu.Unlock()

	if err := c.SwitchDevice(context.Background(), "cam-ghost", models.VideoInput); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	old := b.tracksOf(models.VideoInput)[0]
	if old.isClosed() {
		t.Fatal("old track closed after failed switch")
	}
}
