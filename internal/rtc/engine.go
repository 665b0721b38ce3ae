// Package rtc is the pion-backed transport layer: one peer connection per
// participant, RTP relay between classroom peers, and periodic transport
// stats sampling for the connection quality monitor.
package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/media"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/screenshare"
)

// RTP buffer size (MTU-friendly). Used with sync.Pool to avoid per-packet allocs.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// Clients publish screen capture under this stream id so the server can
// tell it apart from camera video.
const screenStreamID = "screen"

// DefaultStatsInterval is how often each peer connection is sampled.
const DefaultStatsInterval = 5 * time.Second

// SampleHandler receives one transport quality sample per peer per tick.
type SampleHandler func(sessionID, participantID uuid.UUID, sample models.QualitySample)

// Engine manages WebRTC peers per class session.
type Engine struct {
	rooms map[uuid.UUID]*room
	mu    sync.RWMutex
	log   *zap.Logger
	cfg   webrtc.Configuration

	statsInterval time.Duration
	onSample      SampleHandler
}

type room struct {
	sessionID uuid.UUID
	peers     map[uuid.UUID]*peer
	mu        sync.RWMutex
	log       *zap.Logger
}

type peer struct {
	participantID uuid.UUID
	pc            *webrtc.PeerConnection
	relays        []*relayTrack
	trackWaiters  map[webrtc.RTPCodecType][]chan *relayTrack
	screen        *screenStream
	screenWaiters []chan *screenStream
	stopStats     context.CancelFunc
	mu            sync.Mutex
}

type relayTrack struct {
	remote  *webrtc.TrackRemote
	locals  []*webrtc.TrackLocalStaticRTP
	enabled bool // media controller toggle; disabled tracks are not forwarded
	mu      sync.Mutex
}

// NewEngine creates an engine with the given ICE (STUN/TURN) configuration.
func NewEngine(log *zap.Logger, iceServers []webrtc.ICEServer) *Engine {
	cfg := webrtc.Configuration{ICEServers: iceServers}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &Engine{
		rooms:         make(map[uuid.UUID]*room),
		log:           log,
		cfg:           cfg,
		statsInterval: DefaultStatsInterval,
	}
}

// SetStatsInterval overrides the sampling period.
func (e *Engine) SetStatsInterval(d time.Duration) {
	if d > 0 {
		e.statsInterval = d
	}
}

// SetSampleHandler registers the callback that receives per-peer quality
// samples. Set before any peers connect.
func (e *Engine) SetSampleHandler(fn SampleHandler) {
	e.onSample = fn
}

func (e *Engine) getOrCreateRoom(sessionID uuid.UUID) *room {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rooms[sessionID]; ok {
		return r
	}
	r := &room{
		sessionID: sessionID,
		peers:     make(map[uuid.UUID]*peer),
		log:       e.log.With(zap.String("session_id", sessionID.String())),
	}
	e.rooms[sessionID] = r
	return r
}

func (e *Engine) getRoom(sessionID uuid.UUID) *room {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rooms[sessionID]
}

// HandleOffer handles an SDP offer from a participant, creating (or
// replacing) their peer connection and answering.
func (e *Engine) HandleOffer(sessionID, participantID uuid.UUID, sdp webrtc.SessionDescription, sendToClient func(event string, payload interface{})) error {
	r := e.getOrCreateRoom(sessionID)

	r.mu.Lock()
	if old, ok := r.peers[participantID]; ok {
		delete(r.peers, participantID)
		r.mu.Unlock()
		old.close()
		r.mu.Lock()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		r.mu.Unlock()
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(e.cfg)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	p := &peer{participantID: participantID, pc: pc}
	r.peers[participantID] = p
	r.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		sendToClient("webrtc_ice", map[string]interface{}{"candidate": json.RawMessage(b)})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.handleRemoteTrack(p, track)
	})

	if err := pc.SetRemoteDescription(sdp); err != nil {
		_ = pc.Close()
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return err
	}

	r.attachExistingRelays(p)
	e.startStatsLoop(r, p)

	sendToClient("webrtc_answer", map[string]interface{}{
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
	return nil
}

// HandleICE adds a remote ICE candidate to the participant's peer connection.
func (e *Engine) HandleICE(sessionID, participantID uuid.UUID, candidate webrtc.ICECandidateInit) error {
	r := e.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	p, ok := r.peers[participantID]
	r.mu.RUnlock()
	if !ok || p.pc == nil {
		return nil
	}
	return p.pc.AddICECandidate(candidate)
}

// ClosePeer tears down a participant's peer connection (leave, end).
func (e *Engine) ClosePeer(sessionID, participantID uuid.UUID) {
	r := e.getRoom(sessionID)
	if r == nil {
		return
	}
	r.mu.Lock()
	p, ok := r.peers[participantID]
	if ok {
		delete(r.peers, participantID)
	}
	r.mu.Unlock()
	if ok {
		p.close()
	}
}

// CloseSession tears down every peer of a completed session.
func (e *Engine) CloseSession(sessionID uuid.UUID) {
	e.mu.Lock()
	r, ok := e.rooms[sessionID]
	if ok {
		delete(e.rooms, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[uuid.UUID]*peer)
	r.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

func (p *peer) close() {
	p.mu.Lock()
	if p.stopStats != nil {
		p.stopStats()
		p.stopStats = nil
	}
	screen := p.screen
	p.screen = nil
	waiters := p.screenWaiters
	p.screenWaiters = nil
	trackWaiters := p.trackWaiters
	p.trackWaiters = nil
	pc := p.pc
	p.pc = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, ws := range trackWaiters {
		for _, w := range ws {
			close(w)
		}
	}
	if screen != nil {
		screen.markDone()
	}
	if pc != nil {
		_ = pc.Close()
	}
}

// handleRemoteTrack wires an inbound track: screen capture resolves (or
// pre-arms) the participant's screen stream; camera and microphone tracks
// are relayed to the other peers in the room.
func (r *room) handleRemoteTrack(p *peer, track *webrtc.TrackRemote) {
	if strings.EqualFold(track.StreamID(), screenStreamID) {
		relay := &relayTrack{remote: track, enabled: true}
		stream := newScreenStream()
		stream.relay = relay
		p.mu.Lock()
		p.screen = stream
		waiters := p.screenWaiters
		p.screenWaiters = nil
		p.mu.Unlock()
		for _, w := range waiters {
			w <- stream
		}
		r.fanOut(p, relay)
		go func() {
			relay.readAndForward()
			stream.markDone()
			p.mu.Lock()
			if p.screen == stream {
				p.screen = nil
			}
			p.mu.Unlock()
		}()
		return
	}

	relay := &relayTrack{remote: track, enabled: true}
	p.mu.Lock()
	p.relays = append(p.relays, relay)
	waiters := p.trackWaiters[track.Kind()]
	delete(p.trackWaiters, track.Kind())
	p.mu.Unlock()
	for _, w := range waiters {
		w <- relay
	}
	r.fanOut(p, relay)
	go relay.readAndForward()
}

// fanOut adds a local forwarding track for relay to every other peer.
func (r *room) fanOut(from *peer, relay *relayTrack) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, other := range r.peers {
		if id == from.participantID {
			continue
		}
		other.mu.Lock()
		pc := other.pc
		other.mu.Unlock()
		if pc == nil {
			continue
		}
		local, err := webrtc.NewTrackLocalStaticRTP(relay.remote.Codec().RTPCodecCapability, relay.remote.ID(), relay.remote.StreamID())
		if err != nil {
			continue
		}
		relay.mu.Lock()
		relay.locals = append(relay.locals, local)
		relay.mu.Unlock()
		_, _ = pc.AddTrack(local)
	}
}

// attachExistingRelays subscribes a newly connected peer to the tracks the
// other peers already publish.
func (r *room) attachExistingRelays(to *peer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, other := range r.peers {
		if id == to.participantID {
			continue
		}
		other.mu.Lock()
		relays := make([]*relayTrack, len(other.relays))
		copy(relays, other.relays)
		other.mu.Unlock()
		for _, relay := range relays {
			local, err := webrtc.NewTrackLocalStaticRTP(relay.remote.Codec().RTPCodecCapability, relay.remote.ID(), relay.remote.StreamID())
			if err != nil {
				continue
			}
			relay.mu.Lock()
			relay.locals = append(relay.locals, local)
			relay.mu.Unlock()
			to.mu.Lock()
			pc := to.pc
			to.mu.Unlock()
			if pc != nil {
				_, _ = pc.AddTrack(local)
			}
		}
	}
}

func (rt *relayTrack) setEnabled(enabled bool) {
	rt.mu.Lock()
	rt.enabled = enabled
	rt.mu.Unlock()
}

func (rt *relayTrack) readAndForward() {
	for {
		// Reuse buffer from pool to avoid per-packet allocs and bound memory.
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := rt.remote.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}
		// Copy the subscriber list under lock, then write without holding it
		// so one slow subscriber doesn't block others.
		rt.mu.Lock()
		enabled := rt.enabled
		locals := make([]*webrtc.TrackLocalStaticRTP, len(rt.locals))
		copy(locals, rt.locals)
		rt.mu.Unlock()
		if enabled {
			for _, local := range locals {
				_, _ = local.Write(buf[:n])
			}
		}
		rtpBufferPool.Put(ptr)
	}
}

// startStatsLoop samples the peer connection until the peer closes.
func (e *Engine) startStatsLoop(r *room, p *peer) {
	if e.onSample == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.stopStats = cancel
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		cancel()
		return
	}

	go func() {
		ticker := time.NewTicker(e.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sample, ok := collectSample(pc); ok {
					e.onSample(r.sessionID, p.participantID, sample)
				}
			}
		}
	}()
}

// collectSample extracts round-trip time from the active ICE candidate pair
// and packet counters from the inbound RTP streams.
func collectSample(pc *webrtc.PeerConnection) (models.QualitySample, bool) {
	report := pc.GetStats()
	sample := models.QualitySample{SampledAt: time.Now()}
	haveRTT := false
	for _, s := range report {
		switch stat := s.(type) {
		case webrtc.ICECandidatePairStats:
			if stat.State == webrtc.StatsICECandidatePairStateSucceeded && stat.CurrentRoundTripTime > 0 {
				sample.RoundTripTimeMs = stat.CurrentRoundTripTime * 1000
				haveRTT = true
			}
		case webrtc.InboundRTPStreamStats:
			sample.PacketsReceived += int64(stat.PacketsReceived)
			sample.PacketsLost += int64(stat.PacketsLost)
		}
	}
	if !haveRTT && sample.PacketsReceived == 0 {
		return models.QualitySample{}, false
	}
	return sample, true
}

// MediaBackend returns the capture backend for one session, implementing
// media.Backend over the participants' negotiated upstream tracks.
func (e *Engine) MediaBackend(sessionID uuid.UUID) media.Backend {
	return &sessionBackend{engine: e, sessionID: sessionID}
}

// ShareSource returns the screen capture source for one session,
// implementing screenshare.Source.
func (e *Engine) ShareSource(sessionID uuid.UUID) screenshare.Source {
	return &shareSource{engine: e, sessionID: sessionID}
}
