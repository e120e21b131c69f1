package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
	"github.com/opscope/opscope/internal/service"
)

type RetentionHandler struct {
	svc *service.RetentionService
}

func NewRetentionHandler(svc *service.RetentionService) *RetentionHandler {
	return &RetentionHandler{svc: svc}
}

func (h *RetentionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.List(c.Query("tenant_id")))
}

func (h *RetentionHandler) Presets(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Presets())
}

type createPolicyRequest struct {
	TenantID         string `json:"tenant_id" binding:"required"`
	EntityType       string `json:"entity_type"`
	RetentionDays    int    `json:"retention_days"`
	CompliancePreset string `json:"compliance_preset"`
}

func (h *RetentionHandler) Create(c *gin.Context) {
	var req createPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	policy, err := h.svc.Create(c.Request.Context(), model.RetentionPolicy{
		TenantID:         req.TenantID,
		EntityType:       req.EntityType,
		RetentionDays:    req.RetentionDays,
		CompliancePreset: req.CompliancePreset,
	})
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusCreated, policy)
}

type updatePolicyRequest struct {
	RetentionDays int  `json:"retention_days" binding:"required"`
	Active        bool `json:"active"`
}

func (h *RetentionHandler) Update(c *gin.Context) {
	var req updatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	policy, err := h.svc.Update(c.Request.Context(), c.Param("id"), req.RetentionDays, req.Active)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (h *RetentionHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.Status(http.StatusNoContent)
}
