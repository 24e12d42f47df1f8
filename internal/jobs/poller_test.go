package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agrimrv/backend/internal/blockchain"
	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/anchor"
	"github.com/agrimrv/backend/internal/repository/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingWorkflow struct {
	polls   atomic.Int32
	resumes atomic.Int32
	err     error
}

func (w *countingWorkflow) Poll(_ context.Context, rec *anchor.Record) (*anchor.Record, error) {
	w.polls.Add(1)
	return rec, w.err
}

func (w *countingWorkflow) Resume(_ context.Context, rec *anchor.Record) (*anchor.Record, error) {
	w.resumes.Add(1)
	return rec, w.err
}

func seedRecord(t *testing.T, store anchor.Store, id string, state anchor.State, at time.Time) *anchor.Record {
	t.Helper()
	payload := []byte(id)
	rec, err := store.CreateIfAbsent(context.Background(), &anchor.Record{
		ID:          id,
		ProfileHash: canonical.Hash(payload),
		FarmerID:    "farmer-1",
		State:       anchor.StateSubmitting,
		Payload:     payload,
		NextPollAt:  at,
		Version:     1,
		CreatedAt:   at,
		UpdatedAt:   at,
	})
	require.NoError(t, err)
	if state == anchor.StateSubmitting {
		return rec
	}
	next := rec.Clone()
	next.State = state
	next.TxRef = "0x" + id
	rec, err = store.Update(context.Background(), &next, rec.Version)
	require.NoError(t, err)
	return rec
}

func TestRunOnceVerifiesDueRecords(t *testing.T) {
	store := memory.NewAnchorStore()
	ledger := blockchain.NewStubLedger("test")
	wf := anchor.NewWorkflow(store, ledger, anchor.Config{RequiredDepth: 1}, nil, nil, nil)
	ctx := context.Background()

	var ids []string
	for _, payload := range []string{`{"a":1}`, `{"b":2}`} {
		b := []byte(payload)
		rec, err := wf.Submit(ctx, anchor.SubmitInput{FarmerID: "farmer-1", Revision: 1, Hash: canonical.Hash(b), Payload: b})
		require.NoError(t, err)
		require.Equal(t, anchor.StatePendingConfirmation, rec.State)
		ids = append(ids, rec.ID)
	}

	p := NewPoller(store, wf, PollerConfig{Concurrency: 2}, nil, nil)
	p.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }

	sum, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Polled: 2}, sum)

	for _, id := range ids {
		rec, err := store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, anchor.StateVerified, rec.State)
	}
}

func TestRunOnceLeavesRecordsThatAreNotDue(t *testing.T) {
	store := memory.NewAnchorStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedRecord(t, store, "later", anchor.StatePendingConfirmation, now.Add(time.Hour))
	seedRecord(t, store, "fresh", anchor.StateSubmitting, now)

	wf := &countingWorkflow{}
	p := NewPoller(store, wf, PollerConfig{}, nil, nil)
	p.now = func() time.Time { return now }

	sum, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Zero(t, wf.polls.Load())
	assert.Zero(t, wf.resumes.Load())
}

func TestConcurrentPollersPollEachRecordOnce(t *testing.T) {
	store := memory.NewAnchorStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	const records = 20
	for i := 0; i < records; i++ {
		seedRecord(t, store, string(rune('a'+i)), anchor.StatePendingConfirmation, now)
	}

	wf := &countingWorkflow{}
	var polled atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		p := NewPoller(store, wf, PollerConfig{Concurrency: 4, Lease: time.Minute}, nil, nil)
		p.now = func() time.Time { return now }
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := p.RunOnce(context.Background())
			assert.NoError(t, err)
			polled.Add(sum.Polled)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(records), polled.Load())
	assert.Equal(t, int32(records), wf.polls.Load())
}

func TestRunOnceResumesStrandedSubmissions(t *testing.T) {
	store := memory.NewAnchorStore()
	ledger := blockchain.NewStubLedger("test")
	wf := anchor.NewWorkflow(store, ledger, anchor.Config{SubmitStaleAfter: time.Minute}, nil, nil, nil)
	stranded := seedRecord(t, store, "stranded", anchor.StateSubmitting, time.Now().UTC().Add(-10*time.Minute))

	p := NewPoller(store, wf, PollerConfig{SubmitStaleAfter: time.Minute}, nil, nil)
	sum, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Resumed)

	rec, err := store.GetByID(context.Background(), stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, anchor.StatePendingConfirmation, rec.State)
	assert.Equal(t, 1, ledger.Transactions())
}

func TestRunOnceCountsErrors(t *testing.T) {
	store := memory.NewAnchorStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedRecord(t, store, "a", anchor.StatePendingConfirmation, now)

	p := NewPoller(store, &countingWorkflow{err: errors.New("boom")}, PollerConfig{}, nil, nil)
	p.now = func() time.Time { return now }

	sum, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Errors)
}

func TestRunStopsOnCancel(t *testing.T) {
	p := NewPoller(memory.NewAnchorStore(), &countingWorkflow{}, PollerConfig{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
