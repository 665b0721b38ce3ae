package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/devices"
	"github.com/brightclass/backend/internal/media"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/recording"
	"github.com/brightclass/backend/internal/rtc"
	"github.com/brightclass/backend/internal/screenshare"
	"github.com/brightclass/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CoordinatorResolver returns the live coordinator for a session id, or an
// error when the session does not exist or is not joinable.
type CoordinatorResolver func(ctx context.Context, sessionID uuid.UUID) (*session.Coordinator, error)

// Identity is the trusted result of token validation; role and identity are
// minted by the scheduling service and not re-validated here.
type Identity struct {
	UserID      uuid.UUID
	Role        models.Role
	DisplayName string
}

// Client represents a single WebSocket connection in a class session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      models.Role
	JoinedAt  time.Time // set on Register for the attendance log
	hub       *Hub
	coord     *session.Coordinator
	engine    *rtc.Engine
	registry  *devices.Registry
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade, joins the participant into the
// session, and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, validate func(token string) (Identity, error), resolve CoordinatorResolver, engine *rtc.Engine, registry *devices.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		ident, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		coord, err := resolve(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    ident.UserID,
			Role:      ident.Role,
			JoinedAt:  time.Now(),
			hub:       hub,
			coord:     coord,
			engine:    engine,
			registry:  registry,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()

		if _, err := coord.Join(ident.UserID, ident.Role, ident.DisplayName); err != nil {
			client.sendError("join", err)
			hub.Unregister(client)
			_ = conn.Close()
			return
		}
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// Socket loss is a disconnect, not a leave: the participant stays
		// on the roster so they can reconnect.
		c.coord.ReportDisconnected(c.UserID)
		if c.engine != nil {
			c.engine.ClosePeer(c.SessionID, c.UserID)
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	sendToMe := func(event string, payload interface{}) {
		c.hub.SendToClient(c.SessionID, c.ID, event, payload)
	}

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "connected":
			c.coord.ReportConnected(c.UserID)
		case "reconnecting":
			c.coord.ReportReconnecting(c.UserID)
		case "disconnected":
			c.coord.ReportDisconnected(c.UserID)
		case "leave":
			c.coord.Leave(c.UserID)
			return
		case "toggle_audio":
			if err := c.coord.ToggleAudio(c.UserID); err != nil {
				c.sendError(msg.Event, err)
			}
		case "toggle_video":
			if err := c.coord.ToggleVideo(c.UserID); err != nil {
				c.sendError(msg.Event, err)
			}
		case "acquire_media":
			var payload struct {
				Audio         bool   `json:"audio"`
				Video         bool   `json:"video"`
				AudioDeviceID string `json:"audio_device_id"`
				VideoDeviceID string `json:"video_device_id"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				break
			}
			// Acquisition suspends on the host permission prompt; never
			// block the read loop on it.
			go func() {
				err := c.coord.AcquireMedia(c.UserID, media.Constraints{
					Audio:         payload.Audio,
					Video:         payload.Video,
					AudioDeviceID: payload.AudioDeviceID,
					VideoDeviceID: payload.VideoDeviceID,
				})
				if err != nil {
					c.sendError("acquire_media", err)
				}
			}()
		case "switch_device":
			var payload struct {
				DeviceID string `json:"device_id"`
				Kind     string `json:"kind"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				break
			}
			go func() {
				if err := c.coord.SwitchDevice(c.UserID, payload.DeviceID, models.DeviceKind(payload.Kind)); err != nil {
					c.sendError("switch_device", err)
				}
			}()
		case "list_devices":
			var payload struct {
				Kind string `json:"kind"`
			}
			_ = json.Unmarshal(msg.Data, &payload)
			list := c.registry.List(context.Background(), models.DeviceKind(payload.Kind))
			sendToMe("device_list", map[string]interface{}{"devices": list})
		case "refresh_devices":
			list := c.registry.Refresh(context.Background())
			sendToMe("device_list", map[string]interface{}{"devices": list})
		case "screen_share_request":
			// The capture picker suspends until the client publishes its
			// screen track or cancels; run outside the read loop.
			go func() {
				if err := c.coord.RequestScreenShare(c.UserID); err != nil {
					c.sendError("screen_share_request", err)
				}
			}()
		case "screen_share_cancel":
			if c.engine != nil {
				c.engine.CancelShare(c.SessionID, c.UserID)
			}
		case "screen_share_release":
			if err := c.coord.ReleaseScreenShare(c.UserID); err != nil {
				c.sendError(msg.Event, err)
			}
		case "recording_start":
			if err := c.coord.StartRecording(c.UserID); err != nil {
				c.sendError(msg.Event, err)
			}
		case "recording_stop":
			if err := c.coord.StopRecording(c.UserID); err != nil {
				c.sendError(msg.Event, err)
			}
		case "quality_sample":
			var payload struct {
				RoundTripTimeMs float64 `json:"rtt_ms"`
				PacketsLost     int64   `json:"packets_lost"`
				PacketsReceived int64   `json:"packets_received"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				break
			}
			c.coord.RecordQualitySample(c.UserID, models.QualitySample{
				RoundTripTimeMs: payload.RoundTripTimeMs,
				PacketsLost:     payload.PacketsLost,
				PacketsReceived: payload.PacketsReceived,
				SampledAt:       time.Now(),
			})
		case "webrtc_offer":
			if c.engine != nil {
				var payload struct {
					Type string `json:"type"`
					SDP  string `json:"sdp"`
				}
				if err := json.Unmarshal(msg.Data, &payload); err == nil && payload.SDP != "" {
					sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}
					_ = c.engine.HandleOffer(c.SessionID, c.UserID, sdp, sendToMe)
				}
			}
		case "webrtc_ice":
			if c.engine != nil {
				var payload struct {
					Candidate json.RawMessage `json:"candidate"`
				}
				if err := json.Unmarshal(msg.Data, &payload); err == nil && len(payload.Candidate) > 0 {
					var cand webrtc.ICECandidateInit
					if json.Unmarshal(payload.Candidate, &cand) == nil {
						_ = c.engine.HandleICE(c.SessionID, c.UserID, cand)
					}
				}
			}
		default:
			// ignore
		}
	}
}

func (c *Client) sendError(op string, err error) {
	c.hub.SendToClient(c.SessionID, c.ID, "error", map[string]string{
		"op":      op,
		"kind":    errorKind(err),
		"message": err.Error(),
	})
}

// errorKind maps control-plane errors to the stable kinds the presentation
// layer turns into user-facing messages.
func errorKind(err error) string {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, media.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, media.ErrAcquireInProgress):
		return "acquire_in_progress"
	case errors.Is(err, screenshare.ErrAlreadySharing):
		return "already_sharing"
	case errors.Is(err, screenshare.ErrUserCancelled):
		return "user_cancelled"
	case errors.Is(err, screenshare.ErrCaptureFailed):
		return "capture_failed"
	case errors.Is(err, recording.ErrNotAuthorized), errors.Is(err, session.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, recording.ErrAlreadyRecording):
		return "already_recording"
	case errors.Is(err, session.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, session.ErrSessionNotJoinable):
		return "session_not_joinable"
	case errors.Is(err, session.ErrSessionEnded):
		return "session_ended"
	default:
		return "internal"
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
