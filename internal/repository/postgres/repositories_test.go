package postgres

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	admindomain "github.com/agrimrv/backend/internal/domain/admin"
	"github.com/agrimrv/backend/internal/domain/anchor"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/domain/lender"
	"github.com/agrimrv/backend/internal/testutil"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, pool)
	testutil.ResetTables(t, pool)
	return pool
}

func createFarmer(t *testing.T, repo *FarmerRepository, nationalID string) *farmer.Profile {
	t.Helper()
	p, err := repo.Create(context.Background(), farmer.CreateInput{
		FullName:       "Amina Yusuf",
		NationalIDHash: nationalID,
		Region:         "Kaduna",
		Attributes:     map[string]string{"irrigation": "drip"},
	})
	require.NoError(t, err)
	return p
}

func newSubmitting(farmerID string, hash []byte, now time.Time) *anchor.Record {
	return &anchor.Record{
		ID:              uuid.NewString(),
		ProfileHash:     hash,
		FarmerID:        farmerID,
		ProfileRevision: 1,
		State:           anchor.StateSubmitting,
		ChainID:         "stub-local",
		Payload:         []byte(`{"v":1}`),
		NextPollAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestFarmerRepositoryRevisions(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := NewFarmerRepository(pool)

	p := createFarmer(t, repo, "nid-001")
	assert.Equal(t, int64(1), p.Revision)
	assert.Equal(t, "drip", p.Attributes["irrigation"])
	assert.Empty(t, p.Seasons)

	sowing := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p, err := repo.AddSeason(ctx, p.ID, 1, farmer.SeasonInput{
		CropType:   "maize",
		Area:       decimal.RequireFromString("2.5"),
		SowingDate: sowing,
		Status:     farmer.SeasonPlanned,
	})
	require.NoError(t, err)
	require.Len(t, p.Seasons, 1)
	assert.Equal(t, int64(2), p.Revision)
	assert.True(t, p.Seasons[0].Area.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, p.Seasons[0].SowingDate.Equal(sowing))

	_, err = repo.AddSeason(ctx, p.ID, 1, farmer.SeasonInput{CropType: "rice", Area: decimal.NewFromInt(1), SowingDate: sowing, Status: farmer.SeasonPlanned})
	assert.ErrorIs(t, err, farmer.ErrRevisionConflict)

	p, err = repo.UpdateSeasonStatus(ctx, p.ID, 2, p.Seasons[0].ID, farmer.SeasonSown)
	require.NoError(t, err)
	assert.Equal(t, farmer.SeasonSown, p.Seasons[0].Status)
	assert.Equal(t, int64(3), p.Revision)

	_, err = repo.UpdateSeasonStatus(ctx, p.ID, 3, uuid.NewString(), farmer.SeasonSown)
	assert.ErrorIs(t, err, farmer.ErrSeasonNotFound)

	phone := "+234800000000"
	p, err = repo.UpdateContact(ctx, p.ID, 3, farmer.ContactUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, p.Phone)
	assert.Equal(t, int64(4), p.Revision)

	rev, err := repo.GetRevision(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev)

	got, err := repo.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Revision, got.Revision)
	assert.Len(t, got.Seasons, 1)
}

func TestFarmerRepositoryNotFound(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := NewFarmerRepository(pool)

	for _, id := range []string{"missing", uuid.NewString()} {
		_, err := repo.GetProfile(ctx, id)
		assert.ErrorIs(t, err, farmer.ErrNotFound, id)
		_, err = repo.GetRevision(ctx, id)
		assert.ErrorIs(t, err, farmer.ErrNotFound, id)
		_, err = repo.UpdateContact(ctx, id, 1, farmer.ContactUpdate{})
		assert.ErrorIs(t, err, farmer.ErrNotFound, id)
	}
}

func TestLenderRepositoryCatalog(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := NewLenderRepository(pool)

	first, err := repo.Publish(ctx, lender.PublishInput{
		LenderID: "coop-bank", LenderName: "Coop Bank", Rating: 420, MinBand: "B",
		InterestRateMinBPS: 1200, InterestRateMaxBPS: 1800, MaxAmountMinor: 500000, Currency: "NGN",
		ProcessingDays: 7, Tags: []string{lender.TagBank},
	})
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, []string{lender.TagBank}, first.Tags)

	second, err := repo.Publish(ctx, lender.PublishInput{
		LenderID: "agri-fund", LenderName: "Agri Fund", Rating: 300, MinBand: "C",
		InterestRateMinBPS: 900, InterestRateMaxBPS: 900, MaxAmountMinor: 100000, Currency: "NGN",
		ProcessingDays: 3,
	})
	require.NoError(t, err)
	assert.Empty(t, second.Tags)

	active, err := repo.GetActiveOffers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, repo.Deactivate(ctx, first.ID))
	active, err = repo.GetActiveOffers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, repo.Deactivate(ctx, uuid.NewString()), lender.ErrNotFound)
	assert.ErrorIs(t, repo.Deactivate(ctx, "not-a-uuid"), lender.ErrNotFound)
	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, lender.ErrNotFound)
}

func TestAnchorRepositoryLifecycle(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	farmers := NewFarmerRepository(pool)
	repo := NewAnchorRepository(pool)
	f := createFarmer(t, farmers, "nid-anchor")

	now := time.Now().UTC().Truncate(time.Microsecond)
	hash := bytes.Repeat([]byte{0x11}, 32)

	created, err := repo.CreateIfAbsent(ctx, newSubmitting(f.ID, hash, now))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, anchor.StateSubmitting, created.State)

	_, err = repo.CreateIfAbsent(ctx, newSubmitting(f.ID, hash, now))
	assert.ErrorIs(t, err, anchor.ErrActiveExists)

	active, err := repo.GetActive(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, active.ID)

	next := created.Clone()
	next.State = anchor.StatePendingConfirmation
	next.TxRef = "0xabc"
	next.NextPollAt = now.Add(time.Second)
	next.UpdatedAt = now.Add(time.Millisecond)
	pending, err := repo.Update(ctx, &next, created.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending.Version)
	assert.Equal(t, "0xabc", pending.TxRef)

	_, err = repo.Update(ctx, &next, created.Version)
	assert.ErrorIs(t, err, anchor.ErrStaleWrite)

	due, err := repo.ListDue(ctx, anchor.StatePendingConfirmation, now.Add(2*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	due, err = repo.ListDue(ctx, anchor.StatePendingConfirmation, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	done := pending.Clone()
	done.State = anchor.StateVerified
	done.Confirmations = 6
	verifiedAt := now.Add(time.Minute)
	done.VerifiedAt = &verifiedAt
	done.UpdatedAt = verifiedAt
	verified, err := repo.Update(ctx, &done, pending.Version)
	require.NoError(t, err)
	require.NotNil(t, verified.VerifiedAt)
	assert.True(t, verified.VerifiedAt.Equal(verifiedAt))

	again := verified.Clone()
	again.State = anchor.StateFailed
	_, err = repo.Update(ctx, &again, verified.Version)
	assert.ErrorIs(t, err, anchor.ErrStaleWrite, "terminal records are frozen")

	transitions, err := repo.ListTransitions(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, anchor.StateUnanchored, transitions[0].FromState)
	assert.Equal(t, anchor.StateSubmitting, transitions[0].ToState)
	assert.Equal(t, anchor.StatePendingConfirmation, transitions[1].ToState)
	assert.Equal(t, anchor.StateVerified, transitions[2].ToState)

	reanchored, err := repo.CreateIfAbsent(ctx, newSubmitting(f.ID, hash, now.Add(time.Hour)))
	require.NoError(t, err, "a terminal record does not block a new attempt")

	latest, err := repo.GetLatest(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, reanchored.ID, latest.ID)

	byFarmer, err := repo.GetLatestByFarmer(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, reanchored.ID, byFarmer.ID)

	history, err := repo.ListByFarmer(ctx, f.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, anchor.ErrNotFound)
	_, err = repo.GetLatestByFarmer(ctx, uuid.NewString())
	assert.ErrorIs(t, err, anchor.ErrNotFound)
}

func TestAnchorRepositorySameStateUpdatesAddNoHistory(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := NewAnchorRepository(pool)
	f := createFarmer(t, NewFarmerRepository(pool), "nid-head-only")
	now := time.Now().UTC().Truncate(time.Microsecond)

	created, err := repo.CreateIfAbsent(ctx, newSubmitting(f.ID, bytes.Repeat([]byte{0x22}, 32), now))
	require.NoError(t, err)

	retry := created.Clone()
	retry.RetryCount = 1
	retry.LastError = "rpc timeout"
	retry.NextPollAt = now.Add(time.Second)
	saved, err := repo.Update(ctx, &retry, created.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, int32(1), saved.RetryCount)

	pending := saved.Clone()
	pending.State = anchor.StatePendingConfirmation
	pending.TxRef = "0xdef"
	_, err = repo.Update(ctx, &pending, saved.Version)
	require.NoError(t, err)

	transitions, err := repo.ListTransitions(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, int64(1), transitions[0].Version)
	assert.Equal(t, int64(3), transitions[1].Version)
}

func TestAnchorRepositoryConcurrentCreate(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := NewAnchorRepository(pool)
	f := createFarmer(t, NewFarmerRepository(pool), "nid-race")

	now := time.Now().UTC()
	hash := bytes.Repeat([]byte{0x22}, 32)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateIfAbsent(ctx, newSubmitting(f.ID, hash, now))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var created, conflicts int
	for err := range results {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, anchor.ErrActiveExists)
		conflicts++
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
}

func TestAdminAuditRepository(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := NewAdminAuditRepository(pool)

	require.NoError(t, repo.Log(ctx, admindomain.AuditLogInput{AdminUserID: "admin-1", Action: "offer.publish", TargetType: "offer", TargetID: "o-1"}))
	require.NoError(t, repo.Log(ctx, admindomain.AuditLogInput{
		AdminUserID: "admin-1", Action: "offer.deactivate", TargetType: "offer", TargetID: "o-1",
		Payload: []byte(`{"reason":"expired"}`),
	}))

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "offer.deactivate", entries[0].Action)
	assert.JSONEq(t, `{"reason":"expired"}`, string(entries[0].Payload))
	assert.JSONEq(t, `{}`, string(entries[1].Payload))
}
