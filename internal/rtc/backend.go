package rtc

import (
	"context"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/brightclass/backend/internal/media"
	"github.com/brightclass/backend/internal/models"
)

// sessionBackend implements media.Backend for one session. "Acquiring" a
// track server-side means waiting for the participant's upstream track of
// that kind to be negotiated on their peer connection; the wait is bounded
// only by ctx, mirroring a host permission prompt with no implicit timeout.
type sessionBackend struct {
	engine    *Engine
	sessionID uuid.UUID
}

func codecTypeFor(kind models.DeviceKind) webrtc.RTPCodecType {
	if kind == models.AudioInput {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// AcquireTrack resolves the participant's negotiated upstream track of the
// requested kind, waiting for negotiation if it has not happened yet.
func (b *sessionBackend) AcquireTrack(ctx context.Context, owner uuid.UUID, kind models.DeviceKind, deviceID string) (media.Track, error) {
	r := b.engine.getRoom(b.sessionID)
	if r == nil {
		return nil, media.ErrDeviceUnavailable
	}
	r.mu.RLock()
	p, ok := r.peers[owner]
	r.mu.RUnlock()
	if !ok {
		return nil, media.ErrDeviceUnavailable
	}

	codecType := codecTypeFor(kind)

	p.mu.Lock()
	for _, relay := range p.relays {
		if relay.remote.Kind() == codecType {
			p.mu.Unlock()
			return &engineTrack{relay: relay, kind: kind, deviceID: deviceID}, nil
		}
	}
	waiter := make(chan *relayTrack, 1)
	if p.trackWaiters == nil {
		p.trackWaiters = make(map[webrtc.RTPCodecType][]chan *relayTrack)
	}
	p.trackWaiters[codecType] = append(p.trackWaiters[codecType], waiter)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case relay, ok := <-waiter:
		if !ok || relay == nil {
			// Peer closed while we waited.
			return nil, media.ErrDeviceUnavailable
		}
		return &engineTrack{relay: relay, kind: kind, deviceID: deviceID}, nil
	}
}

// engineTrack is the media.Track handle over one relayed upstream track.
// Enable toggles gate RTP forwarding; the actual capture device lives on
// the client, so Close only severs the relay.
type engineTrack struct {
	relay    *relayTrack
	kind     models.DeviceKind
	deviceID string
}

func (t *engineTrack) Kind() models.DeviceKind { return t.kind }
func (t *engineTrack) DeviceID() string        { return t.deviceID }

func (t *engineTrack) SetEnabled(enabled bool) {
	t.relay.setEnabled(enabled)
}

func (t *engineTrack) Close() error {
	t.relay.setEnabled(false)
	return nil
}
