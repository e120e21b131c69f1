package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/audit"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
)

// AuditHandler exposes trail reconstruction, entity history and unified
// search.
type AuditHandler struct {
	recorder *audit.Recorder
	search   *audit.SearchEngine
}

func NewAuditHandler(recorder *audit.Recorder, search *audit.SearchEngine) *AuditHandler {
	return &AuditHandler{recorder: recorder, search: search}
}

func (h *AuditHandler) GetTrail(c *gin.Context) {
	correlationID := c.Param("correlationId")
	trail, ok := h.recorder.GetTrail(c.Request.Context(), correlationID)
	if !ok {
		c.Error(apperrors.NewNotFound("no audit trail for correlation id " + correlationID))
		return
	}
	c.JSON(http.StatusOK, trail)
}

func (h *AuditHandler) GetEntityHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	result := h.recorder.GetEntityHistory(c.Request.Context(), c.Param("type"), c.Param("id"), page, pageSize)
	c.JSON(http.StatusOK, result)
}

// Recent lists the correlation ids of the most recently seen trails.
func (h *AuditHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ids := h.recorder.RecentTrails(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{"correlation_ids": ids, "count": len(ids)})
}

func (h *AuditHandler) Search(c *gin.Context) {
	req := model.SearchRequest{
		Term:       c.Query("term"),
		TenantID:   c.Query("tenant_id"),
		EntityType: c.Query("entity_type"),
		UserID:     c.Query("user_id"),
	}
	if raw := c.Query("scope"); raw != "" {
		scope := model.SearchScope{}
		for _, part := range strings.Split(raw, ",") {
			switch strings.TrimSpace(strings.ToLower(part)) {
			case "http_requests", "requests":
				scope.HTTPRequests = true
			case "handlers":
				scope.Handlers = true
			case "entities":
				scope.Entities = true
			default:
				c.Error(apperrors.NewValidation("unknown search scope " + part))
				return
			}
		}
		req.Scope = scope
	}
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewValidation(err.Error()))
			return
		}
		req.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewValidation(err.Error()))
			return
		}
		req.To = &t
	}
	if raw := c.Query("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			req.Page = parsed
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			req.PageSize = parsed
		}
	}

	result, err := h.search.Search(c.Request.Context(), req)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
