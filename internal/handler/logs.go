package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/logbuf"
	"github.com/opscope/opscope/internal/loglevel"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
)

// LogsHandler exposes the live side of the core: level management, buffer
// reads and error clustering.
type LogsHandler struct {
	levels *loglevel.Controller
	ring   *logbuf.Ring
}

func NewLogsHandler(levels *loglevel.Controller, ring *logbuf.Ring) *LogsHandler {
	return &LogsHandler{levels: levels, ring: ring}
}

func (h *LogsHandler) GetLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": h.levels.Level().String()})
}

type setLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

func (h *LogsHandler) SetLevel(c *gin.Context) {
	var req setLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	level, err := model.ParseLevel(req.Level)
	if err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	if err := h.levels.SetLevel(level); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level.String()})
}

func (h *LogsHandler) GetOverrides(c *gin.Context) {
	c.JSON(http.StatusOK, h.levels.Overrides())
}

type setOverrideRequest struct {
	Prefix string `json:"prefix" binding:"required"`
	Level  string `json:"level" binding:"required"`
}

func (h *LogsHandler) SetOverride(c *gin.Context) {
	var req setOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	level, err := model.ParseLevel(req.Level)
	if err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	if err := h.levels.SetOverride(req.Prefix, level); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, model.LevelOverride{Prefix: req.Prefix, Level: level})
}

func (h *LogsHandler) RemoveOverride(c *gin.Context) {
	prefix := c.Query("prefix")
	if prefix == "" {
		c.Error(apperrors.NewValidation("prefix query parameter is required"))
		return
	}
	if err := h.levels.RemoveOverride(prefix); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LogsHandler) GetBuffer(c *gin.Context) {
	filter := model.BufferFilter{
		Search:         c.Query("search"),
		ExceptionsOnly: c.Query("exceptions_only") == "true",
	}
	if raw := c.Query("min_level"); raw != "" {
		level, err := model.ParseLevel(raw)
		if err != nil {
			c.Error(apperrors.NewValidation(err.Error()))
			return
		}
		filter.MinLevel = &level
	}
	if raw := c.Query("sources"); raw != "" {
		filter.Sources = strings.Split(raw, ",")
	}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			filter.Limit = parsed
		}
	}
	c.JSON(http.StatusOK, h.ring.GetFiltered(filter))
}

func (h *LogsHandler) GetBufferStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.ring.Stats())
}

func (h *LogsHandler) ClearBuffer(c *gin.Context) {
	h.ring.Clear()
	c.Status(http.StatusNoContent)
}

func (h *LogsHandler) GetClusters(c *gin.Context) {
	maxClusters := 20
	if raw := c.Query("max"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxClusters = parsed
		}
	}
	c.JSON(http.StatusOK, h.ring.Clusters(maxClusters))
}
