package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/history"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
)

// HistoryHandler exposes the date-partitioned cold store.
type HistoryHandler struct {
	store *history.Store
}

func NewHistoryHandler(store *history.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) GetDates(c *gin.Context) {
	dates, err := h.store.AvailableDates()
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates})
}

func (h *HistoryHandler) GetDay(c *gin.Context) {
	query, err := parseHistoryQuery(c)
	if err != nil {
		c.Error(err)
		return
	}
	page, err := h.store.Logs(c.Request.Context(), c.Param("date"), query)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *HistoryHandler) Search(c *gin.Context) {
	query, err := parseHistoryQuery(c)
	if err != nil {
		c.Error(err)
		return
	}
	page, err := h.store.Search(c.Request.Context(), c.Query("from"), c.Query("to"), query)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *HistoryHandler) GetSize(c *gin.Context) {
	size, err := h.store.FileSize(c.Query("from"), c.Query("to"))
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes": size})
}

func parseHistoryQuery(c *gin.Context) (model.HistoryQuery, error) {
	query := model.HistoryQuery{
		Search:        c.Query("search"),
		HasException:  c.Query("has_exception") == "true",
		CorrelationID: c.Query("correlation_id"),
	}
	if raw := c.Query("min_level"); raw != "" {
		level, err := model.ParseLevel(raw)
		if err != nil {
			return query, apperrors.NewValidation(err.Error())
		}
		query.MinLevel = &level
	}
	if raw := c.Query("levels"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			level, err := model.ParseLevel(part)
			if err != nil {
				return query, apperrors.NewValidation(err.Error())
			}
			query.Levels = append(query.Levels, level)
		}
	}
	if raw := c.Query("sources"); raw != "" {
		query.Sources = strings.Split(raw, ",")
	}
	if raw := c.Query("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			query.Page = parsed
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			query.PageSize = parsed
		}
	}
	return query, nil
}
