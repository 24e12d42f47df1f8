package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/anchor"
)

type AnchorStoreSuite struct {
	suite.Suite
	store *AnchorStore
	ctx   context.Context
	now   time.Time
}

func TestAnchorStoreSuite(t *testing.T) {
	suite.Run(t, new(AnchorStoreSuite))
}

func (s *AnchorStoreSuite) SetupTest() {
	s.store = NewAnchorStore()
	s.ctx = context.Background()
	s.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *AnchorStoreSuite) newRecord(id, payload string) *anchor.Record {
	return &anchor.Record{
		ID:              id,
		ProfileHash:     canonical.Hash([]byte(payload)),
		FarmerID:        "farmer-1",
		ProfileRevision: 1,
		State:           anchor.StateSubmitting,
		ChainID:         "test",
		Payload:         []byte(payload),
		NextPollAt:      s.now,
		Version:         1,
		CreatedAt:       s.now,
		UpdatedAt:       s.now,
	}
}

func (s *AnchorStoreSuite) TestCreateIfAbsentAllowsOneActivePerHash() {
	created, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("r1", "p"))
	s.Require().NoError(err)
	s.Equal(int64(1), created.Version)

	_, err = s.store.CreateIfAbsent(s.ctx, s.newRecord("r2", "p"))
	s.ErrorIs(err, anchor.ErrActiveExists)

	_, err = s.store.CreateIfAbsent(s.ctx, s.newRecord("r3", "other"))
	s.NoError(err)
}

func (s *AnchorStoreSuite) TestConcurrentCreateHasSingleWinner() {
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := s.newRecord(string(rune('a'+i)), "same")
			if _, err := s.store.CreateIfAbsent(s.ctx, rec); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *AnchorStoreSuite) TestUpdateChecksVersion() {
	created, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("r1", "p"))
	s.Require().NoError(err)

	next := created.Clone()
	next.State = anchor.StatePendingConfirmation
	next.TxRef = "0xtx"
	saved, err := s.store.Update(s.ctx, &next, created.Version)
	s.Require().NoError(err)
	s.Equal(int64(2), saved.Version)

	stale := created.Clone()
	stale.RetryCount = 9
	_, err = s.store.Update(s.ctx, &stale, created.Version)
	s.ErrorIs(err, anchor.ErrStaleWrite)
}

func (s *AnchorStoreSuite) TestUpdateKeepsImmutableFields() {
	created, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("r1", "p"))
	s.Require().NoError(err)

	next := created.Clone()
	next.ProfileHash = canonical.Hash([]byte("forged"))
	next.FarmerID = "someone-else"
	saved, err := s.store.Update(s.ctx, &next, created.Version)
	s.Require().NoError(err)
	s.Equal(created.ProfileHash, saved.ProfileHash)
	s.Equal("farmer-1", saved.FarmerID)
}

func (s *AnchorStoreSuite) TestTerminalRecordsAreFrozen() {
	created, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("r1", "p"))
	s.Require().NoError(err)

	failed := created.Clone()
	failed.State = anchor.StateFailed
	saved, err := s.store.Update(s.ctx, &failed, created.Version)
	s.Require().NoError(err)

	again := saved.Clone()
	again.State = anchor.StateVerified
	_, err = s.store.Update(s.ctx, &again, saved.Version)
	s.ErrorIs(err, anchor.ErrStaleWrite)

	_, err = s.store.GetActive(s.ctx, created.ProfileHash)
	s.ErrorIs(err, anchor.ErrNotFound)
	latest, err := s.store.GetLatest(s.ctx, created.ProfileHash)
	s.Require().NoError(err)
	s.Equal(anchor.StateFailed, latest.State)

	_, err = s.store.CreateIfAbsent(s.ctx, s.newRecord("r2", "p"))
	s.NoError(err)
	history, err := s.store.ListByProfile(s.ctx, created.ProfileHash)
	s.Require().NoError(err)
	s.Len(history, 2)
	s.Equal("r2", history[0].ID)
}

func (s *AnchorStoreSuite) TestTransitionsAreAppendOnly() {
	created, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("r1", "p"))
	s.Require().NoError(err)

	retry := created.Clone()
	retry.RetryCount = 1
	saved, err := s.store.Update(s.ctx, &retry, created.Version)
	s.Require().NoError(err)

	pending := saved.Clone()
	pending.State = anchor.StatePendingConfirmation
	_, err = s.store.Update(s.ctx, &pending, saved.Version)
	s.Require().NoError(err)

	transitions, err := s.store.ListTransitions(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().Len(transitions, 2)
	s.Equal(anchor.StateUnanchored, transitions[0].FromState)
	s.Equal(anchor.StateSubmitting, transitions[0].ToState)
	s.Equal(anchor.StatePendingConfirmation, transitions[1].ToState)
	s.Equal(int64(3), transitions[1].Version)
}

func (s *AnchorStoreSuite) TestSameStateUpdatesAddNoHistory() {
	created, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("r1", "p"))
	s.Require().NoError(err)

	cur := created
	for i := 1; i <= 3; i++ {
		next := cur.Clone()
		next.PollErrors = int32(i)
		next.NextPollAt = s.now.Add(time.Duration(i) * time.Second)
		cur, err = s.store.Update(s.ctx, &next, cur.Version)
		s.Require().NoError(err)
	}
	s.Equal(int64(4), cur.Version)
	s.Equal(int32(3), cur.PollErrors)

	transitions, err := s.store.ListTransitions(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().Len(transitions, 1)
	s.Equal(int64(1), transitions[0].Version)
}

func (s *AnchorStoreSuite) TestListDue() {
	a, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("a", "pa"))
	s.Require().NoError(err)
	b, err := s.store.CreateIfAbsent(s.ctx, s.newRecord("b", "pb"))
	s.Require().NoError(err)
	_, err = s.store.CreateIfAbsent(s.ctx, s.newRecord("c", "pc"))
	s.Require().NoError(err)

	for i, rec := range []*anchor.Record{a, b} {
		next := rec.Clone()
		next.State = anchor.StatePendingConfirmation
		next.NextPollAt = s.now.Add(time.Duration(2-i) * time.Minute)
		_, err := s.store.Update(s.ctx, &next, rec.Version)
		s.Require().NoError(err)
	}

	due, err := s.store.ListDue(s.ctx, anchor.StatePendingConfirmation, s.now.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal("b", due[0].ID)

	due, err = s.store.ListDue(s.ctx, anchor.StatePendingConfirmation, s.now.Add(time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 2)
	s.Equal("b", due[0].ID)
	s.Equal("a", due[1].ID)

	stranded, err := s.store.ListDue(s.ctx, anchor.StateSubmitting, s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(stranded, 1)
	s.Equal("c", stranded[0].ID)
}

func (s *AnchorStoreSuite) TestListByFarmerLimit() {
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := s.store.CreateIfAbsent(s.ctx, s.newRecord(id, id))
		s.Require().NoError(err)
	}
	out, err := s.store.ListByFarmer(s.ctx, "farmer-1", 2)
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Equal("r3", out[0].ID)
	s.Equal("r2", out[1].ID)

	latest, err := s.store.GetLatestByFarmer(s.ctx, "farmer-1")
	s.Require().NoError(err)
	s.Equal("r3", latest.ID)
}
