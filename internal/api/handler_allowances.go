package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"datapack-backend/internal/model"
)

// allowanceResponse is the flattened structure for a single allowance.
type allowanceResponse struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	CapacityMB  int64                 `json:"capacity_mb"`
	ConsumedMB  int64                 `json:"consumed_mb"`
	RemainingMB int64                 `json:"remaining_mb"`
	Status      model.AllowanceStatus `json:"status"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
}

// ListAllowances handles GET /api/allowances?owner_id=...
func (h *Handler) ListAllowances(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	allowances, err := h.store.ActiveAllowancesByOwner(c.Request.Context(), ownerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	response := make([]allowanceResponse, 0, len(allowances))
	for _, a := range allowances {
		response = append(response, allowanceResponse{
			ID:          a.ID,
			Name:        a.Name,
			CapacityMB:  a.CapacityMB,
			ConsumedMB:  a.ConsumedMB,
			RemainingMB: a.RemainingMB(),
			Status:      a.Status,
			ExpiresAt:   a.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// summaryResponse aggregates an owner's allowances by status.
type summaryResponse struct {
	TotalAllowances int64                      `json:"total_allowances"`
	TotalCapacityMB int64                      `json:"total_capacity_mb"`
	TotalConsumedMB int64                      `json:"total_consumed_mb"`
	RemainingMB     int64                      `json:"remaining_mb"`
	ByStatus        map[string]summaryByStatus `json:"by_status"`
}

type summaryByStatus struct {
	Count      int64 `json:"count"`
	CapacityMB int64 `json:"capacity_mb"`
	ConsumedMB int64 `json:"consumed_mb"`
}

// GetAllowanceSummary handles GET /api/allowances/summary?owner_id=...
// with one grouped aggregation instead of per-allowance queries.
func (h *Handler) GetAllowanceSummary(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	type aggRow struct {
		Status     string
		Count      int64
		CapacityMB int64
		ConsumedMB int64
	}
	var aggs []aggRow
	if err := h.store.DB().WithContext(c.Request.Context()).
		Model(&model.Allowance{}).
		Select("status, COUNT(*) as count, COALESCE(SUM(capacity_mb), 0) as capacity_mb, COALESCE(SUM(consumed_mb), 0) as consumed_mb").
		Where("owner_id = ?", ownerID).
		Group("status").
		Scan(&aggs).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate allowances"})
		return
	}

	summary := summaryResponse{ByStatus: make(map[string]summaryByStatus)}
	for _, a := range aggs {
		summary.TotalAllowances += a.Count
		summary.TotalCapacityMB += a.CapacityMB
		summary.TotalConsumedMB += a.ConsumedMB
		if a.Status == string(model.AllowanceActive) {
			summary.RemainingMB += a.CapacityMB - a.ConsumedMB
		}
		summary.ByStatus[a.Status] = summaryByStatus{
			Count:      a.Count,
			CapacityMB: a.CapacityMB,
			ConsumedMB: a.ConsumedMB,
		}
	}
	c.JSON(http.StatusOK, summary)
}
