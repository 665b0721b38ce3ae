package media

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/models"
)

var (
	// ErrPermissionDenied means the host denied capture access. Recoverable
	// by retry after user action; never fatal to the session.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrDeviceUnavailable means the requested device is missing or was
	// removed. Recoverable by re-enumeration.
	ErrDeviceUnavailable = errors.New("media: device unavailable")
	// ErrAcquireInProgress means an acquisition is already suspended on the
	// host permission prompt.
	ErrAcquireInProgress = errors.New("media: acquisition already in flight")
)

// Constraints selects which kinds to capture and from which devices.
// Empty device IDs let the backend pick its default.
type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
}

// Track is one live captured input. SetEnabled toggles the track without
// renegotiating acquisition.
type Track interface {
	Kind() models.DeviceKind
	DeviceID() string
	SetEnabled(enabled bool)
	Close() error
}

// Backend performs the actual capture for one participant. AcquireTrack
// suspends until the host grants or denies access and must honor ctx
// cancellation.
type Backend interface {
	AcquireTrack(ctx context.Context, owner uuid.UUID, kind models.DeviceKind, deviceID string) (Track, error)
}

// StreamHandle groups the tracks acquired for one participant.
type StreamHandle struct {
	audio Track
	video Track
}

// AudioDeviceID returns the device ID of the audio track, if any.
func (h *StreamHandle) AudioDeviceID() string {
	if h == nil || h.audio == nil {
		return ""
	}
	return h.audio.DeviceID()
}

// VideoDeviceID returns the device ID of the video track, if any.
func (h *StreamHandle) VideoDeviceID() string {
	if h == nil || h.video == nil {
		return ""
	}
	return h.video.DeviceID()
}

// Controller owns one participant's local capture stream and its lifetime.
// The stream handle is an explicit resource: acquired here, released here,
// never reached through ambient state.
type Controller struct {
	mu      sync.Mutex
	owner   uuid.UUID
	backend Backend
	stream  *StreamHandle
	state   models.MediaState
	// busy marks an acquisition or device switch suspended on the backend.
	// The mutex is never held across that wait, so toggles and releases
	// from other events stay responsive.
	busy        bool
	dropPending bool // released while busy; tear down the grant on resolve
	log         *zap.Logger
}

// NewController creates a controller for one participant over the given
// capture backend.
func NewController(owner uuid.UUID, backend Backend, log *zap.Logger) *Controller {
	return &Controller{owner: owner, backend: backend, log: log}
}

// Acquire captures the requested tracks. It suspends until the host resolves
// the permission prompt without holding the controller mutex; on any failure
// no partial stream is left behind. Calling Acquire while a stream is held
// returns the held stream unchanged; calling it while another acquisition is
// still suspended returns ErrAcquireInProgress.
func (c *Controller) Acquire(ctx context.Context, want Constraints) (*StreamHandle, error) {
	c.mu.Lock()
	if c.stream != nil {
		h := c.stream
		c.mu.Unlock()
		return h, nil
	}
	if c.busy {
		c.mu.Unlock()
		return nil, ErrAcquireInProgress
	}
	c.busy = true
	c.mu.Unlock()

	h := &StreamHandle{}
	if want.Audio {
		t, err := c.backend.AcquireTrack(ctx, c.owner, models.AudioInput, want.AudioDeviceID)
		if err != nil {
			c.settleBusy()
			return nil, err
		}
		h.audio = t
	}
	if want.Video {
		t, err := c.backend.AcquireTrack(ctx, c.owner, models.VideoInput, want.VideoDeviceID)
		if err != nil {
			if h.audio != nil {
				_ = h.audio.Close()
			}
			c.settleBusy()
			return nil, err
		}
		h.video = t
	}

	c.mu.Lock()
	c.busy = false
	if c.dropPending {
		// Released while the prompt was pending; the grant must not
		// outlive the release.
		c.dropPending = false
		c.mu.Unlock()
		closeHandle(h)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrDeviceUnavailable
	}
	c.stream = h
	c.state = models.MediaState{AudioEnabled: h.audio != nil, VideoEnabled: h.video != nil}
	c.mu.Unlock()
	return h, nil
}

func (c *Controller) settleBusy() {
	c.mu.Lock()
	c.busy = false
	c.dropPending = false
	c.mu.Unlock()
}

func closeHandle(h *StreamHandle) {
	if h.audio != nil {
		_ = h.audio.Close()
	}
	if h.video != nil {
		_ = h.video.Close()
	}
}

// Release closes all held tracks. Idempotent. A release that lands while an
// acquisition is still suspended marks the eventual grant for teardown, so
// no capture outlives the release.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		c.dropPending = true
	}
	c.closeLocked()
}

func (c *Controller) closeLocked() {
	if c.stream == nil {
		return
	}
	if c.stream.audio != nil {
		_ = c.stream.audio.Close()
	}
	if c.stream.video != nil {
		_ = c.stream.video.Close()
	}
	c.stream = nil
	c.state = models.MediaState{}
}

// SetAudioEnabled toggles the audio track on the held stream. No-op when no
// stream is held.
func (c *Controller) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.audio == nil {
		return
	}
	c.stream.audio.SetEnabled(enabled)
	c.state.AudioEnabled = enabled
}

// SetVideoEnabled toggles the video track on the held stream. No-op when no
// stream is held.
func (c *Controller) SetVideoEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.video == nil {
		return
	}
	c.stream.video.SetEnabled(enabled)
	c.state.VideoEnabled = enabled
}

// State returns the current enable flags.
func (c *Controller) State() models.MediaState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Held reports whether a stream is currently acquired.
func (c *Controller) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// SwitchDevice replaces the track of the given kind with one captured from
// deviceID. The new device is acquired before the old track is released, so
// a failed acquisition leaves the old device active; the controller mutex is
// not held across the acquisition. A switch with no held stream, or one that
// races an acquisition or release, is a stale call and a no-op.
func (c *Controller) SwitchDevice(ctx context.Context, deviceID string, kind models.DeviceKind) error {
	c.mu.Lock()
	if c.stream == nil || c.busy {
		c.mu.Unlock()
		return nil
	}
	var old Track
	switch kind {
	case models.AudioInput:
		old = c.stream.audio
	case models.VideoInput:
		old = c.stream.video
	}
	if old == nil {
		c.mu.Unlock()
		return nil
	}
	c.busy = true
	c.mu.Unlock()

	next, err := c.backend.AcquireTrack(ctx, c.owner, kind, deviceID)

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.dropPending = false
		c.mu.Unlock()
		return err
	}
	if c.dropPending || c.stream == nil {
		// Released while the switch was suspended.
		c.dropPending = false
		c.mu.Unlock()
		_ = next.Close()
		return nil
	}
	_ = old.Close()
	switch kind {
	case models.AudioInput:
		c.stream.audio = next
		next.SetEnabled(c.state.AudioEnabled)
	case models.VideoInput:
		c.stream.video = next
		next.SetEnabled(c.state.VideoEnabled)
	}
	c.mu.Unlock()
	c.log.Debug("switched device", zap.String("device_id", deviceID), zap.String("kind", string(kind)))
	return nil
}
