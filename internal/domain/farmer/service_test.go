package farmer_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/repository/memory"
)

func newService(t *testing.T) (*farmer.Service, *farmer.Profile) {
	t.Helper()
	svc := farmer.NewService(memory.NewFarmerRepository())
	p, err := svc.Create(context.Background(), farmer.CreateInput{
		FullName:       " Amina Njeri ",
		NationalIDHash: "0xfeed",
		Region:         "Rift Valley",
		Attributes:     map[string]string{"irrigation": "drip"},
	})
	require.NoError(t, err)
	return svc, p
}

func TestCreateValidatesAndStartsAtRevisionOne(t *testing.T) {
	svc, p := newService(t)
	assert.Equal(t, "Amina Njeri", p.FullName)
	assert.Equal(t, int64(1), p.Revision)
	assert.Equal(t, "drip", p.Attributes["irrigation"])

	_, err := svc.Create(context.Background(), farmer.CreateInput{FullName: "x"})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestMutationsBumpRevision(t *testing.T) {
	svc, p := newService(t)
	ctx := context.Background()

	phone := "+254700000000"
	p, err := svc.UpdateContact(ctx, p.ID, 1, farmer.ContactUpdate{Phone: &phone, Attributes: map[string]string{"irrigation": ""}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Revision)
	assert.Equal(t, phone, p.Phone)
	assert.NotContains(t, p.Attributes, "irrigation")

	p, err = svc.AddSeason(ctx, p.ID, 2, farmer.SeasonInput{
		CropType:   " maize ",
		Area:       decimal.RequireFromString("1.25"),
		SowingDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Revision)
	require.Len(t, p.Seasons, 1)
	assert.Equal(t, farmer.SeasonPlanned, p.Seasons[0].Status)
	assert.Equal(t, "maize", p.Seasons[0].CropType)

	p, err = svc.UpdateSeasonStatus(ctx, p.ID, 3, p.Seasons[0].ID, "Harvested")
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Revision)
	assert.Equal(t, farmer.SeasonHarvested, p.Seasons[0].Status)
}

func TestStaleRevisionIsRejected(t *testing.T) {
	svc, p := newService(t)
	phone := "+254700000000"

	_, err := svc.UpdateContact(context.Background(), p.ID, 7, farmer.ContactUpdate{Phone: &phone})
	assert.Equal(t, apperr.KindStaleWrite, apperr.KindOf(err))

	got, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
}

func TestSeasonValidation(t *testing.T) {
	svc, p := newService(t)
	ctx := context.Background()

	_, err := svc.AddSeason(ctx, p.ID, 1, farmer.SeasonInput{CropType: "maize", Area: decimal.Zero, SowingDate: time.Now()})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = svc.AddSeason(ctx, p.ID, 1, farmer.SeasonInput{CropType: "maize", Area: decimal.NewFromInt(1), SowingDate: time.Now(), Status: "burnt"})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = svc.UpdateSeasonStatus(ctx, p.ID, 1, "missing", farmer.SeasonFailed)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetUnknownFarmer(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Get(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAttributeNamesAreTrimmedAndCollisionsRejected(t *testing.T) {
	svc, p := newService(t)
	ctx := context.Background()
	colliding := map[string]string{"irrigation": "drip", " irrigation": "sprinkler", "irrigation ": "flood"}

	_, err := svc.Create(ctx, farmer.CreateInput{
		FullName:       "Peter Otieno",
		NationalIDHash: "0xbeef",
		Region:         "Nyanza",
		Attributes:     colliding,
	})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = svc.UpdateContact(ctx, p.ID, 1, farmer.ContactUpdate{Attributes: colliding})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	p, err = svc.UpdateContact(ctx, p.ID, 1, farmer.ContactUpdate{Attributes: map[string]string{" soil ": " loam "}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Revision)
	assert.Equal(t, "loam", p.Attributes["soil"])
	assert.NotContains(t, p.Attributes, " soil ")
	assert.Equal(t, "drip", p.Attributes["irrigation"])
}
