package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agrimrv/backend/internal/domain/anchor"
)

// AnchorStore is an in-process anchor.Store. A single mutex linearizes every
// create and update, which gives the same guarantees as the Postgres store's
// partial unique index and version predicate.
type AnchorStore struct {
	mu          sync.Mutex
	records     map[string]*anchor.Record
	byHash      map[string][]string
	byFarmer    map[string][]string
	active      map[string]string
	transitions map[string][]anchor.Transition
}

func NewAnchorStore() *AnchorStore {
	return &AnchorStore{
		records:     map[string]*anchor.Record{},
		byHash:      map[string][]string{},
		byFarmer:    map[string][]string{},
		active:      map[string]string{},
		transitions: map[string][]anchor.Transition{},
	}
}

func hashKey(hash []byte) string {
	return hex.EncodeToString(hash)
}

func (s *AnchorStore) GetByID(_ context.Context, id string) (*anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, anchor.ErrNotFound
	}
	out := rec.Clone()
	return &out, nil
}

func (s *AnchorStore) GetActive(_ context.Context, hash []byte) (*anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[hashKey(hash)]
	if !ok {
		return nil, anchor.ErrNotFound
	}
	out := s.records[id].Clone()
	return &out, nil
}

func (s *AnchorStore) GetLatest(_ context.Context, hash []byte) (*anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last(s.byHash[hashKey(hash)])
}

func (s *AnchorStore) GetLatestByFarmer(_ context.Context, farmerID string) (*anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last(s.byFarmer[farmerID])
}

func (s *AnchorStore) last(ids []string) (*anchor.Record, error) {
	if len(ids) == 0 {
		return nil, anchor.ErrNotFound
	}
	out := s.records[ids[len(ids)-1]].Clone()
	return &out, nil
}

func (s *AnchorStore) CreateIfAbsent(_ context.Context, rec *anchor.Record) (*anchor.Record, error) {
	if rec.State != anchor.StateSubmitting {
		return nil, fmt.Errorf("new anchor record must be %s, got %s", anchor.StateSubmitting, rec.State)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashKey(rec.ProfileHash)
	if _, ok := s.active[key]; ok {
		return nil, anchor.ErrActiveExists
	}
	if _, ok := s.records[rec.ID]; ok {
		return nil, fmt.Errorf("duplicate anchor record id %s", rec.ID)
	}

	stored := rec.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.records[stored.ID] = &stored
	s.byHash[key] = append(s.byHash[key], stored.ID)
	s.byFarmer[stored.FarmerID] = append(s.byFarmer[stored.FarmerID], stored.ID)
	s.active[key] = stored.ID
	s.transitions[stored.ID] = append(s.transitions[stored.ID], anchor.Transition{
		RecordID:  stored.ID,
		Version:   stored.Version,
		FromState: anchor.StateUnanchored,
		ToState:   stored.State,
		At:        stored.CreatedAt,
	})

	out := stored.Clone()
	return &out, nil
}

func (s *AnchorStore) Update(_ context.Context, rec *anchor.Record, expectedVersion int64) (*anchor.Record, error) {
	if !rec.State.Valid() {
		return nil, fmt.Errorf("invalid anchor state %q", rec.State)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.ID]
	if !ok {
		return nil, anchor.ErrNotFound
	}
	if cur.Version != expectedVersion || cur.State.IsTerminal() {
		return nil, anchor.ErrStaleWrite
	}

	next := rec.Clone()
	next.ProfileHash = cur.ProfileHash
	next.FarmerID = cur.FarmerID
	next.ProfileRevision = cur.ProfileRevision
	next.Payload = cur.Payload
	next.CreatedAt = cur.CreatedAt
	next.Version = expectedVersion + 1
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	if next.State != cur.State {
		s.transitions[next.ID] = append(s.transitions[next.ID], anchor.Transition{
			RecordID:  next.ID,
			Version:   next.Version,
			FromState: cur.State,
			ToState:   next.State,
			TxRef:     next.TxRef,
			LastError: next.LastError,
			At:        next.UpdatedAt,
		})
		if next.State.IsTerminal() {
			delete(s.active, hashKey(next.ProfileHash))
		}
	}
	s.records[next.ID] = &next

	out := next.Clone()
	return &out, nil
}

func (s *AnchorStore) ListByProfile(_ context.Context, hash []byte) ([]anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newestFirst(s.byHash[hashKey(hash)], 0), nil
}

func (s *AnchorStore) ListByFarmer(_ context.Context, farmerID string, limit int32) ([]anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newestFirst(s.byFarmer[farmerID], int(limit)), nil
}

func (s *AnchorStore) newestFirst(ids []string, limit int) []anchor.Record {
	out := make([]anchor.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.records[ids[i]].Clone())
	}
	return out
}

func (s *AnchorStore) ListTransitions(_ context.Context, recordID string) ([]anchor.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]anchor.Transition, len(s.transitions[recordID]))
	copy(out, s.transitions[recordID])
	return out, nil
}

func (s *AnchorStore) ListDue(_ context.Context, state anchor.State, before time.Time, limit int32) ([]anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := func(r *anchor.Record) time.Time {
		if state == anchor.StateSubmitting {
			return r.UpdatedAt
		}
		return r.NextPollAt
	}

	out := make([]anchor.Record, 0)
	for _, id := range s.active {
		r := s.records[id]
		if r.State != state || due(r).After(before) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := due(&out[i]), due(&out[j])
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}
