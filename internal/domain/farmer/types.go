package farmer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SeasonPlanned   = "planned"
	SeasonSown      = "sown"
	SeasonHarvested = "harvested"
	SeasonFailed    = "failed"
)

type Season struct {
	ID         string
	CropType   string
	Area       decimal.Decimal
	SowingDate time.Time
	Status     string
}

// Profile is a revisioned farmer credit profile. Revision increases by one on
// every mutation and never goes backwards.
type Profile struct {
	ID                string
	FullName          string
	NationalIDHash    string
	Phone             string
	Region            string
	District          string
	Village           string
	CooperativeMember bool
	CooperativeID     string
	Attributes        map[string]string
	Seasons           []Season
	Revision          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type CreateInput struct {
	FullName          string            `json:"full_name"`
	NationalIDHash    string            `json:"national_id_hash"`
	Phone             string            `json:"phone"`
	Region            string            `json:"region"`
	District          string            `json:"district"`
	Village           string            `json:"village"`
	CooperativeMember bool              `json:"cooperative_member"`
	CooperativeID     string            `json:"cooperative_id"`
	Attributes        map[string]string `json:"attributes"`
}

// ContactUpdate carries optional contact/location changes; nil fields are left untouched.
type ContactUpdate struct {
	Phone             *string           `json:"phone"`
	Region            *string           `json:"region"`
	District          *string           `json:"district"`
	Village           *string           `json:"village"`
	CooperativeMember *bool             `json:"cooperative_member"`
	CooperativeID     *string           `json:"cooperative_id"`
	Attributes        map[string]string `json:"attributes"`
}

type SeasonInput struct {
	CropType   string          `json:"crop_type"`
	Area       decimal.Decimal `json:"area_hectares"`
	SowingDate time.Time       `json:"sowing_date"`
	Status     string          `json:"status"`
}

// ProfileSource is the read side used by anchoring and matching.
type ProfileSource interface {
	GetProfile(ctx context.Context, farmerID string) (*Profile, error)
	GetRevision(ctx context.Context, farmerID string) (int64, error)
}

// Repository persists profiles. Mutating methods take the revision the caller
// read and fail with ErrRevisionConflict when it moved.
type Repository interface {
	ProfileSource
	Create(ctx context.Context, in CreateInput) (*Profile, error)
	UpdateContact(ctx context.Context, farmerID string, expectedRevision int64, in ContactUpdate) (*Profile, error)
	AddSeason(ctx context.Context, farmerID string, expectedRevision int64, in SeasonInput) (*Profile, error)
	UpdateSeasonStatus(ctx context.Context, farmerID string, expectedRevision int64, seasonID, status string) (*Profile, error)
}

func ValidSeasonStatus(status string) bool {
	switch status {
	case SeasonPlanned, SeasonSown, SeasonHarvested, SeasonFailed:
		return true
	default:
		return false
	}
}
