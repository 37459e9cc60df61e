package http

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsgate/jitterm/internal/audit"
	"github.com/opsgate/jitterm/internal/session"
	"github.com/opsgate/jitterm/internal/shared/id"
)

// Handlers exposes the inbound control operations consumed by the
// authorization layer: create/terminate/list sessions, fetch session and
// audit logs, and get/update runtime settings.
type Handlers struct {
	manager *session.Manager
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(manager *session.Manager) *Handlers {
	return &Handlers{manager: manager}
}

// CreateSessionRequest is the create-session payload. Reauthentication and
// role checks happen upstream; identity arrives already validated.
type CreateSessionRequest struct {
	UserID         string   `json:"user_id"`
	UserName       string   `json:"user_name"`
	IsAgent        bool     `json:"is_agent"`
	AgentID        string   `json:"agent_id"`
	Task           string   `json:"task"`
	Restrictions   []string `json:"restrictions"`
	TimeoutMinutes int      `json:"timeout_minutes"`
	Shell          string   `json:"shell"`
	WorkingDir     string   `json:"working_dir"`
	Cols           int      `json:"cols"`
	Rows           int      `json:"rows"`
}

// TerminateSessionRequest names the terminating actor and reason.
type TerminateSessionRequest struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Reason    string `json:"reason"`
}

// UpdateSettingsRequest carries a partial settings update and its actor.
type UpdateSettingsRequest struct {
	ActorID   string                 `json:"actor_id"`
	ActorName string                 `json:"actor_name"`
	Settings  session.SettingsUpdate `json:"settings"`
}

// Health reports service liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_sessions": len(h.manager.ListActive("")),
	})
}

// CreateSession grants a new terminal session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var owner session.Owner
	if req.IsAgent {
		if req.AgentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required for agent sessions"})
			return
		}
		owner = session.AgentOwner(req.AgentID, req.Task, req.Restrictions)
	} else {
		if req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		owner = session.HumanOwner(req.UserID, req.UserName)
	}

	summary, err := h.manager.Create(owner, session.CreateOptions{
		TimeoutMinutes: req.TimeoutMinutes,
		Shell:          req.Shell,
		WorkingDir:     req.WorkingDir,
		Cols:           req.Cols,
		Rows:           req.Rows,
	})
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, summary)
}

// ListSessions returns active sessions, filterable by owner.
func (h *Handlers) ListSessions(c *gin.Context) {
	ownerID := c.Query("user_id")
	sessions := h.manager.ListActive(ownerID)
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session summary.
func (h *Handlers) GetSession(c *gin.Context) {
	summary, err := h.manager.Get(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// TerminateSession ends a session. A repeated call for the same ID yields
// 404, matching the idempotent-by-id contract.
func (h *Handlers) TerminateSession(c *gin.Context) {
	var req TerminateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "Terminated by operator"
	}

	err := h.manager.Terminate(
		id.SessionID(c.Param("id")),
		audit.Actor{UserID: req.ActorID, Name: req.ActorName},
		reason,
	)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"terminated": true})
}

// GetSessionLog serves the per-session log file for post-mortem review.
func (h *Handlers) GetSessionLog(c *gin.Context) {
	path, err := h.manager.LogPath(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session log not found"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session log not found"})
		return
	}
	c.File(path)
}

// QueryAudit filters the in-memory audit ring.
func (h *Handlers) QueryAudit(c *gin.Context) {
	q := audit.Query{
		ActorID: c.Query("actor_id"),
		Action:  c.Query("action"),
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
			return
		}
		q.Since = &t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
			return
		}
		q.Until = &t
	}

	events := h.manager.Audit(q)
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetSettings returns the runtime settings.
func (h *Handlers) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Settings())
}

// UpdateSettings applies a validated partial settings update.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := h.manager.UpdateSettings(req.Settings, audit.Actor{UserID: req.ActorID, Name: req.ActorName})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, updated)
}

// statusFor maps session errors to HTTP statuses, keeping the specific
// reason string in the body.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInactive):
		return http.StatusConflict
	case errors.Is(err, session.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrDisabled), errors.Is(err, session.ErrProductionDisallowed):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
