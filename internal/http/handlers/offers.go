package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/agrimrv/backend/internal/domain/eligibility"
)

type OfferService interface {
	GetEligibleOffers(ctx context.Context, farmerID string) (*eligibility.Offers, error)
}

type OffersHandler struct {
	service OfferService
}

func NewOffersHandler(service OfferService) *OffersHandler {
	return &OffersHandler{service: service}
}

type offerView struct {
	Rank               int      `json:"rank"`
	OfferID            string   `json:"offer_id"`
	LenderID           string   `json:"lender_id"`
	LenderName         string   `json:"lender_name"`
	Rating             string   `json:"rating"`
	MinBand            string   `json:"min_band"`
	QualifiedBand      string   `json:"qualified_band"`
	InterestRateMinPct string   `json:"interest_rate_min_pct"`
	InterestRateMaxPct string   `json:"interest_rate_max_pct"`
	MaxAmount          string   `json:"max_amount"`
	Currency           string   `json:"currency"`
	ProcessingDays     int32    `json:"processing_days"`
	Tags               []string `json:"tags"`
}

// hundredths renders an integer in hundredths (basis points, cents, stars*100)
// as a fixed two-decimal string.
func hundredths(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

func (h *OffersHandler) GetEligibleOffers(c *gin.Context) {
	res, err := h.service.GetEligibleOffers(c.Request.Context(), c.Param("farmerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	offers := make([]offerView, 0, len(res.EligibleOffers))
	for _, o := range res.EligibleOffers {
		offers = append(offers, offerView{
			Rank:               o.Rank,
			OfferID:            o.ID,
			LenderID:           o.LenderID,
			LenderName:         o.LenderName,
			Rating:             hundredths(int64(o.Rating)),
			MinBand:            o.MinBand,
			QualifiedBand:      string(o.QualifiedBand),
			InterestRateMinPct: hundredths(int64(o.InterestRateMinBPS)),
			InterestRateMaxPct: hundredths(int64(o.InterestRateMaxBPS)),
			MaxAmount:          hundredths(o.MaxAmountMinor),
			Currency:           o.Currency,
			ProcessingDays:     o.ProcessingDays,
			Tags:               o.Tags,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"farmer_id":        res.FarmerID,
		"revision":         res.Revision,
		"profile_hash":     res.ProfileHash,
		"score_band":       res.ScoreBand,
		"score":            res.Score,
		"premium_unlocked": res.PremiumUnlocked,
		"total_lenders":    res.TotalLenders,
		"eligible_lenders": res.EligibleLenders,
		"eligible_offers":  offers,
	})
}
