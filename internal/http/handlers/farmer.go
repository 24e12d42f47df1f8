package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/agrimrv/backend/internal/domain/farmer"
)

type FarmerService interface {
	Create(ctx context.Context, in farmer.CreateInput) (*farmer.Profile, error)
	Get(ctx context.Context, farmerID string) (*farmer.Profile, error)
	UpdateContact(ctx context.Context, farmerID string, expectedRevision int64, in farmer.ContactUpdate) (*farmer.Profile, error)
	AddSeason(ctx context.Context, farmerID string, expectedRevision int64, in farmer.SeasonInput) (*farmer.Profile, error)
	UpdateSeasonStatus(ctx context.Context, farmerID string, expectedRevision int64, seasonID, status string) (*farmer.Profile, error)
}

type FarmerHandler struct {
	service FarmerService
}

func NewFarmerHandler(service FarmerService) *FarmerHandler {
	return &FarmerHandler{service: service}
}

type seasonView struct {
	ID           string `json:"id"`
	CropType     string `json:"crop_type"`
	AreaHectares string `json:"area_hectares"`
	SowingDate   string `json:"sowing_date"`
	Status       string `json:"status"`
}

type profileView struct {
	ID                string            `json:"id"`
	FullName          string            `json:"full_name"`
	Phone             string            `json:"phone"`
	Region            string            `json:"region"`
	District          string            `json:"district"`
	Village           string            `json:"village"`
	CooperativeMember bool              `json:"cooperative_member"`
	CooperativeID     string            `json:"cooperative_id,omitempty"`
	Attributes        map[string]string `json:"attributes"`
	Seasons           []seasonView      `json:"seasons"`
	Revision          int64             `json:"revision"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toProfileView(p *farmer.Profile) profileView {
	seasons := make([]seasonView, 0, len(p.Seasons))
	for _, s := range p.Seasons {
		seasons = append(seasons, seasonView{
			ID:           s.ID,
			CropType:     s.CropType,
			AreaHectares: s.Area.String(),
			SowingDate:   s.SowingDate.UTC().Format(time.DateOnly),
			Status:       s.Status,
		})
	}
	attrs := p.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return profileView{
		ID:                p.ID,
		FullName:          p.FullName,
		Phone:             p.Phone,
		Region:            p.Region,
		District:          p.District,
		Village:           p.Village,
		CooperativeMember: p.CooperativeMember,
		CooperativeID:     p.CooperativeID,
		Attributes:        attrs,
		Seasons:           seasons,
		Revision:          p.Revision,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (h *FarmerHandler) Create(c *gin.Context) {
	var in farmer.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	p, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProfileView(p))
}

func (h *FarmerHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("farmerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileView(p))
}

type updateContactRequest struct {
	ExpectedRevision int64 `json:"expected_revision" binding:"required"`
	farmer.ContactUpdate
}

func (h *FarmerHandler) UpdateContact(c *gin.Context) {
	var req updateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	p, err := h.service.UpdateContact(c.Request.Context(), c.Param("farmerId"), req.ExpectedRevision, req.ContactUpdate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileView(p))
}

type addSeasonRequest struct {
	ExpectedRevision int64           `json:"expected_revision" binding:"required"`
	CropType         string          `json:"crop_type"`
	AreaHectares     decimal.Decimal `json:"area_hectares"`
	SowingDate       string          `json:"sowing_date"`
	Status           string          `json:"status"`
}

func parseDay(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (h *FarmerHandler) AddSeason(c *gin.Context) {
	var req addSeasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	sowing, ok := parseDay(req.SowingDate)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sowing_date"})
		return
	}
	p, err := h.service.AddSeason(c.Request.Context(), c.Param("farmerId"), req.ExpectedRevision, farmer.SeasonInput{
		CropType:   req.CropType,
		Area:       req.AreaHectares,
		SowingDate: sowing,
		Status:     req.Status,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProfileView(p))
}

type seasonStatusRequest struct {
	ExpectedRevision int64  `json:"expected_revision" binding:"required"`
	Status           string `json:"status" binding:"required"`
}

func (h *FarmerHandler) UpdateSeasonStatus(c *gin.Context) {
	var req seasonStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	p, err := h.service.UpdateSeasonStatus(c.Request.Context(), c.Param("farmerId"), req.ExpectedRevision, c.Param("seasonId"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileView(p))
}
