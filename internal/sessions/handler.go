package sessions

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/middleware"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/session"
	"github.com/brightclass/backend/pkg/response"
)

// Handler exposes scheduling and read endpoints for class sessions. Live
// mutations flow through the WebSocket transport; the HTTP surface covers
// scheduling, snapshots, and the tutor's end/cancel controls.
type Handler struct {
	repo    *Repository
	manager *session.Manager
	logger  *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, manager *session.Manager, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, manager: manager, logger: logger}
}

type createRequest struct {
	Subject     string    `json:"subject" binding:"required"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

// Create handles POST /sessions (tutor only).
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "subject and scheduled_at required")
		return
	}
	tutorID, ok := userID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	s := &models.ClassSession{Subject: req.Subject, TutorID: tutorID, ScheduledAt: req.ScheduledAt}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions. Tutors see their own sessions via ?mine=1.
func (h *Handler) List(c *gin.Context) {
	var tutorID *uuid.UUID
	if c.Query("mine") == "1" {
		if id, ok := userID(c); ok {
			tutorID = &id
		}
	}
	list, err := h.repo.List(c.Request.Context(), tutorID)
	if err != nil {
		h.logger.Error("list sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, gin.H{"sessions": list})
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, s)
}

// Snapshot handles GET /sessions/:id/snapshot: the live immutable view when
// the session has a coordinator on this instance, otherwise a view derived
// from the stored record.
func (h *Handler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if coord, ok := h.manager.Get(id); ok {
		response.OK(c, coord.Snapshot())
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, models.SessionView{
		SessionID:    s.ID,
		Subject:      s.Subject,
		Status:       s.Status,
		StartedAt:    s.StartedAt,
		Participants: []models.ParticipantSnapshot{},
		QualityTier:  models.TierExcellent,
		TakenAt:      time.Now(),
	})
}

// End handles POST /sessions/:id/end (tutor only; completes the session).
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	callerID, ok := userID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	coord, ok := h.manager.Get(id)
	if !ok {
		response.NotFound(c, "session not active")
		return
	}
	if err := coord.EndSession(callerID); err != nil {
		switch {
		case errors.Is(err, session.ErrNotAuthorized):
			response.Forbidden(c, "only the tutor can end the session")
		case errors.Is(err, session.ErrNotParticipant):
			response.Forbidden(c, "caller is not in the session")
		case errors.Is(err, session.ErrSessionEnded):
			response.Conflict(c, "session already ended")
		default:
			response.Internal(c, "failed to end session")
		}
		return
	}
	response.OK(c, coord.Snapshot())
}

// Cancel handles POST /sessions/:id/cancel (tutor only; scheduled sessions only).
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	// A coordinator may already exist for the session (resolved on a
	// WebSocket connect ahead of the first join). Cancel the live state
	// first so no join slips in after the row flips.
	if coord, ok := h.manager.Get(id); ok {
		if err := coord.Cancel(); err != nil {
			response.Conflict(c, "session is not cancellable")
			return
		}
		h.manager.Remove(id)
	}
	done, err := h.repo.Cancel(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("cancel session", zap.Error(err))
		response.Internal(c, "failed to cancel session")
		return
	}
	if !done {
		response.Conflict(c, "session is not cancellable")
		return
	}
	response.NoContent(c)
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
