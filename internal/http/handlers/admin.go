package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	admindomain "github.com/agrimrv/backend/internal/domain/admin"
	"github.com/agrimrv/backend/internal/domain/lender"
	"github.com/agrimrv/backend/internal/http/middleware"
)

type AdminService interface {
	PublishOffer(ctx context.Context, adminUserID string, in lender.PublishInput) (*lender.Offer, error)
	DeactivateOffer(ctx context.Context, adminUserID, offerID string) error
	AuditLog(ctx context.Context, limit int32) ([]admindomain.AuditEntry, error)
}

type AdminHandler struct {
	service AdminService
}

func NewAdminHandler(service AdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) SystemHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AdminHandler) PublishOffer(c *gin.Context) {
	var in lender.PublishInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	offer, err := h.service.PublishOffer(c.Request.Context(), c.GetString(middleware.CtxUserID), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (h *AdminHandler) DeactivateOffer(c *gin.Context) {
	if err := h.service.DeactivateOffer(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("offerId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (h *AdminHandler) AuditLog(c *gin.Context) {
	limit, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("limit", "100")), 10, 32)
	items, err := h.service.AuditLog(c.Request.Context(), int32(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
