package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"datapack-backend/internal/model"
)

// GetOptions handles GET /api/sessions/available.
func (h *Handler) GetOptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Options())
}

type startDownloadRequest struct {
	OwnerID  string `json:"owner_id" binding:"required"`
	OptionID string `json:"option_id" binding:"required"`
}

// StartDownload handles POST /api/sessions/download.
func (h *Handler) StartDownload(c *gin.Context) {
	var req startDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opt, err := h.sessions.Option(req.OptionID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	sess, err := h.sessions.StartDownload(c.Request.Context(), req.OwnerID, opt)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sess.ID,
		"state":      sess.State,
		"message":    "Downloading " + opt.Name + " session",
	})
}

// ActivateSession handles POST /api/sessions/:session_id/activate.
func (h *Handler) ActivateSession(c *gin.Context) {
	sess, err := h.sessions.Activate(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"state":        sess.State,
		"activated_at": sess.ActivatedAt,
	})
}

type trackUsageRequest struct {
	AmountMB int64 `json:"amount_mb" binding:"required,gt=0"`
}

// TrackUsage handles POST /api/sessions/:session_id/usage.
func (h *Handler) TrackUsage(c *gin.Context) {
	var req trackUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.sessions.TrackUsage(c.Request.Context(), c.Param("session_id"), req.AmountMB)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// sessionResponse is the flattened structure for session listings.
type sessionResponse struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	State           model.SessionState `json:"state"`
	ProgressPercent int                `json:"progress_percent"`
	RequestedMB     int64              `json:"requested_mb"`
	ConsumedMB      int64              `json:"consumed_mb"`
	CanActivate     bool               `json:"can_activate"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	ActivatedAt     *time.Time         `json:"activated_at,omitempty"`
}

// ListSessions handles GET /api/sessions?owner_id=...
func (h *Handler) ListSessions(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	sessions, err := h.store.SessionsByOwner(c.Request.Context(), ownerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	response := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, sessionResponse{
			ID:              s.ID,
			Name:            s.Name,
			State:           s.State,
			ProgressPercent: s.ProgressPercent,
			RequestedMB:     s.RequestedMB,
			ConsumedMB:      s.ConsumedMB,
			CanActivate:     s.State == model.SessionStored,
			FailureReason:   s.FailureReason,
			CreatedAt:       s.CreatedAt,
			ActivatedAt:     s.ActivatedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetSession handles GET /api/sessions/:session_id.
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.store.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		ID:              sess.ID,
		Name:            sess.Name,
		State:           sess.State,
		ProgressPercent: sess.ProgressPercent,
		RequestedMB:     sess.RequestedMB,
		ConsumedMB:      sess.ConsumedMB,
		CanActivate:     sess.State == model.SessionStored,
		FailureReason:   sess.FailureReason,
		CreatedAt:       sess.CreatedAt,
		ActivatedAt:     sess.ActivatedAt,
	})
}
