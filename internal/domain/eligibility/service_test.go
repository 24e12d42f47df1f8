package eligibility_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/eligibility"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/domain/lender"
	"github.com/agrimrv/backend/internal/observability"
	"github.com/agrimrv/backend/internal/repository/memory"
)

type verifierFunc func(hash []byte) bool

func (f verifierFunc) IsVerified(_ context.Context, hash []byte) (bool, error) {
	return f(hash), nil
}

func weights() eligibility.Weights {
	return eligibility.Weights{Completion: 50, Area: 30, Cooperative: 20, AreaCapHundredths: 500, BandA: 750, BandB: 500, BandC: 250}
}

func seedCatalog(t *testing.T, repo *memory.LenderRepository) {
	t.Helper()
	for _, in := range []lender.PublishInput{
		{LenderID: "lender-a", LenderName: "A", Rating: 480, MinBand: "A", MaxAmountMinor: 1, Currency: "KES"},
		{LenderID: "lender-b", LenderName: "B", Rating: 410, MinBand: "B", MaxAmountMinor: 1, Currency: "KES"},
		{LenderID: "lender-p", LenderName: "P", Rating: 495, MinBand: "A", MaxAmountMinor: 1, Currency: "KES", Tags: []string{lender.TagPremium}},
	} {
		_, err := repo.Publish(context.Background(), in)
		require.NoError(t, err)
	}
}

func topFarmer() farmer.Profile {
	sown := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return farmer.Profile{
		ID:                "farmer-1",
		NationalIDHash:    "0xabc",
		Region:            "Rift Valley",
		CooperativeMember: true,
		Seasons: []farmer.Season{
			{CropType: "maize", Area: decimal.RequireFromString("4"), SowingDate: sown, Status: farmer.SeasonHarvested},
			{CropType: "beans", Area: decimal.RequireFromString("2"), SowingDate: sown, Status: farmer.SeasonHarvested},
		},
		Revision: 3,
	}
}

func TestGetEligibleOffersPremiumGate(t *testing.T) {
	farmers := memory.NewFarmerRepository()
	farmers.Put(topFarmer())
	offers := memory.NewLenderRepository()
	seedCatalog(t, offers)
	snap, err := canonical.Canonicalize(topFarmer())
	require.NoError(t, err)

	verified := false
	verifier := verifierFunc(func(hash []byte) bool {
		return verified && canonical.HashHex(hash) == snap.HashHex()
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc, err := eligibility.NewService(farmers, offers, verifier, weights(), true, metrics, nil)
	require.NoError(t, err)

	out, err := svc.GetEligibleOffers(context.Background(), "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, eligibility.BandA, out.ScoreBand)
	assert.Equal(t, snap.HashHex(), out.ProfileHash)
	assert.Equal(t, int64(3), out.Revision)
	assert.False(t, out.PremiumUnlocked)
	assert.Len(t, out.EligibleOffers, 2)
	assert.Equal(t, 3, out.TotalLenders)

	verified = true
	out, err = svc.GetEligibleOffers(context.Background(), "farmer-1")
	require.NoError(t, err)
	assert.True(t, out.PremiumUnlocked)
	require.Len(t, out.EligibleOffers, 3)
	assert.Equal(t, "lender-p", out.EligibleOffers[0].LenderID)
}

func TestGetEligibleOffersWithoutAnchorRequirement(t *testing.T) {
	farmers := memory.NewFarmerRepository()
	farmers.Put(topFarmer())
	offers := memory.NewLenderRepository()
	seedCatalog(t, offers)

	svc, err := eligibility.NewService(farmers, offers, nil, weights(), false, nil, nil)
	require.NoError(t, err)

	out, err := svc.GetEligibleOffers(context.Background(), "farmer-1")
	require.NoError(t, err)
	assert.True(t, out.PremiumUnlocked)
	assert.Len(t, out.EligibleOffers, 3)
}

func TestGetEligibleOffersErrors(t *testing.T) {
	farmers := memory.NewFarmerRepository()
	invalid := topFarmer()
	invalid.ID = "farmer-2"
	invalid.Region = ""
	farmers.Put(invalid)

	svc, err := eligibility.NewService(farmers, memory.NewLenderRepository(), nil, weights(), true, nil, nil)
	require.NoError(t, err)

	_, err = svc.GetEligibleOffers(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.GetEligibleOffers(context.Background(), "farmer-2")
	assert.Equal(t, apperr.KindInvalidProfile, apperr.KindOf(err))
}

func TestNewServiceRejectsBadWeights(t *testing.T) {
	w := weights()
	w.AreaCapHundredths = 0
	_, err := eligibility.NewService(nil, nil, nil, w, true, nil, nil)
	assert.Error(t, err)
}
