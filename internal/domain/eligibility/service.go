package eligibility

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/config"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/domain/lender"
	"github.com/agrimrv/backend/internal/observability"
)

// AnchorVerifier reports whether a profile hash has a verified anchor.
type AnchorVerifier interface {
	IsVerified(ctx context.Context, hash []byte) (bool, error)
}

type Offers struct {
	FarmerID        string          `json:"farmer_id"`
	Revision        int64           `json:"revision"`
	ProfileHash     string          `json:"profile_hash"`
	ScoreBand       Band            `json:"score_band"`
	Score           int64           `json:"score"`
	PremiumUnlocked bool            `json:"premium_unlocked"`
	TotalLenders    int             `json:"total_lenders"`
	EligibleLenders int             `json:"eligible_lenders"`
	EligibleOffers  []EligibleOffer `json:"eligible_offers"`
}

type Service struct {
	profiles              farmer.ProfileSource
	catalog               lender.CatalogSource
	anchors               AnchorVerifier
	weights               Weights
	premiumRequiresAnchor bool
	metrics               *observability.Metrics
	logger                *slog.Logger
}

func NewService(profiles farmer.ProfileSource, catalog lender.CatalogSource, anchors AnchorVerifier, weights Weights, premiumRequiresAnchor bool, metrics *observability.Metrics, logger *slog.Logger) (*Service, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles:              profiles,
		catalog:               catalog,
		anchors:               anchors,
		weights:               weights,
		premiumRequiresAnchor: premiumRequiresAnchor,
		metrics:               metrics,
		logger:                logger,
	}, nil
}

func WeightsFrom(cfg config.Config) Weights {
	return Weights{
		Completion:        cfg.ScoreWeightCompletion,
		Area:              cfg.ScoreWeightArea,
		Cooperative:       cfg.ScoreWeightCooperative,
		AreaCapHundredths: cfg.ScoreAreaCapHundredths,
		BandA:             cfg.ScoreBandA,
		BandB:             cfg.ScoreBandB,
		BandC:             cfg.ScoreBandC,
	}
}

// GetEligibleOffers matches the farmer's current profile against the active
// catalog snapshot.
func (s *Service) GetEligibleOffers(ctx context.Context, farmerID string) (*Offers, error) {
	p, err := s.profiles.GetProfile(ctx, farmerID)
	if err != nil {
		if errors.Is(err, farmer.ErrNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "farmer profile not found", err)
		}
		return nil, err
	}
	snap, err := canonical.Canonicalize(*p)
	if err != nil {
		return nil, err
	}
	catalog, err := s.catalog.GetActiveOffers(ctx)
	if err != nil {
		return nil, err
	}

	premium, err := s.premiumUnlocked(ctx, snap.Hash)
	if err != nil {
		return nil, err
	}

	res := Match(*p, catalog, s.weights, MatchOptions{PremiumUnlocked: premium})
	s.metrics.EligibilityMatch(string(res.ScoreCard.Band), len(res.Offers))

	return &Offers{
		FarmerID:        p.ID,
		Revision:        p.Revision,
		ProfileHash:     snap.HashHex(),
		ScoreBand:       res.ScoreCard.Band,
		Score:           res.ScoreCard.Score,
		PremiumUnlocked: premium,
		TotalLenders:    res.TotalLenders,
		EligibleLenders: res.EligibleLenders,
		EligibleOffers:  res.Offers,
	}, nil
}

func (s *Service) premiumUnlocked(ctx context.Context, hash []byte) (bool, error) {
	if !s.premiumRequiresAnchor {
		return true, nil
	}
	if s.anchors == nil {
		return false, nil
	}
	return s.anchors.IsVerified(ctx, hash)
}
