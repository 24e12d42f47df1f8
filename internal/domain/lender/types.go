package lender

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("offer not found")

const (
	TagBank        = "bank"
	TagCreditUnion = "credit_union"
	TagFund        = "fund"
	TagPremium     = "premium"
)

// Offer is a published lending product. Offers are immutable once published;
// changing terms means publishing a new offer and deactivating the old one.
type Offer struct {
	ID                 string    `json:"id"`
	LenderID           string    `json:"lender_id"`
	LenderName         string    `json:"lender_name"`
	Rating             int32     `json:"rating"`
	MinBand            string    `json:"min_band"`
	InterestRateMinBPS int32     `json:"interest_rate_min_bps"`
	InterestRateMaxBPS int32     `json:"interest_rate_max_bps"`
	MaxAmountMinor     int64     `json:"max_amount_minor"`
	Currency           string    `json:"currency"`
	ProcessingDays     int32     `json:"processing_days"`
	Tags               []string  `json:"tags"`
	Active             bool      `json:"active"`
	PublishedAt        time.Time `json:"published_at"`
}

func (o Offer) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type PublishInput struct {
	LenderID           string   `json:"lender_id"`
	LenderName         string   `json:"lender_name"`
	Rating             int32    `json:"rating"`
	MinBand            string   `json:"min_band"`
	InterestRateMinBPS int32    `json:"interest_rate_min_bps"`
	InterestRateMaxBPS int32    `json:"interest_rate_max_bps"`
	MaxAmountMinor     int64    `json:"max_amount_minor"`
	Currency           string   `json:"currency"`
	ProcessingDays     int32    `json:"processing_days"`
	Tags               []string `json:"tags"`
}

// CatalogSource returns a point-in-time snapshot of active offers. Callers
// must treat the returned slice as read-only.
type CatalogSource interface {
	GetActiveOffers(ctx context.Context) ([]Offer, error)
}

type Repository interface {
	CatalogSource
	Publish(ctx context.Context, in PublishInput) (*Offer, error)
	GetByID(ctx context.Context, offerID string) (*Offer, error)
	Deactivate(ctx context.Context, offerID string) error
}
