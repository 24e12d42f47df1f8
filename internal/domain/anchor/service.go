package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/observability"
)

const defaultHistoryLimit = 50

// HashCache memoizes canonical results per farmer revision.
type HashCache interface {
	Get(ctx context.Context, farmerID string, revision int64) (canonical.Result, bool, error)
	Put(ctx context.Context, farmerID string, revision int64, res canonical.Result) error
}

type StatusError struct {
	Kind   apperr.Kind `json:"kind"`
	Reason string      `json:"reason"`
}

// Status is the farmer-facing view of the anchor for the current profile revision.
type Status struct {
	FarmerID         string       `json:"farmer_id"`
	Hash             string       `json:"hash"`
	State            State        `json:"state"`
	Revision         int64        `json:"revision"`
	AnchoredRevision int64        `json:"anchored_revision,omitempty"`
	Stale            bool         `json:"stale"`
	TxRef            string       `json:"tx_ref,omitempty"`
	ChainID          string       `json:"chain_id,omitempty"`
	Confirmations    int64        `json:"confirmations"`
	VerifiedAt       *time.Time   `json:"verified_at,omitempty"`
	Error            *StatusError `json:"error,omitempty"`
}

type HistoryEntry struct {
	Record      Record
	Transitions []Transition
}

type Service struct {
	profiles farmer.ProfileSource
	store    Store
	workflow *Workflow
	cache    HashCache
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewService(profiles farmer.ProfileSource, store Store, workflow *Workflow, cache HashCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles: profiles,
		store:    store,
		workflow: workflow,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

type snapshot struct {
	revision int64
	result   canonical.Result
}

// RequestAnchor anchors the farmer's current profile revision. It returns the
// in-flight record for the hash when one exists and the verified record when
// the hash is already anchored; otherwise it starts a new submission.
func (s *Service) RequestAnchor(ctx context.Context, farmerID string) (*Record, error) {
	snap, err := s.snapshot(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	hash := snap.result.Hash

	if rec, err := s.existing(ctx, hash); err != nil || rec != nil {
		return rec, err
	}

	rec, err := s.workflow.Submit(ctx, SubmitInput{
		FarmerID: farmerID,
		Revision: snap.revision,
		Hash:     hash,
		Payload:  snap.result.Bytes,
	})
	if apperr.KindOf(err) == apperr.KindConflict {
		// Lost the create race; report the winner's record.
		if cur, lerr := s.existing(ctx, hash); lerr == nil && cur != nil {
			return cur, nil
		}
	}
	return rec, err
}

func (s *Service) existing(ctx context.Context, hash []byte) (*Record, error) {
	active, err := s.store.GetActive(ctx, hash)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	latest, err := s.store.GetLatest(ctx, hash)
	if err == nil && latest.State == StateVerified {
		return latest, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func (s *Service) GetAnchorStatus(ctx context.Context, farmerID string) (*Status, error) {
	snap, err := s.snapshot(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	out := &Status{
		FarmerID: farmerID,
		Hash:     snap.result.HashHex(),
		State:    StateUnanchored,
		Revision: snap.revision,
	}

	rec, err := s.store.GetLatest(ctx, snap.result.Hash)
	switch {
	case err == nil:
		out.State = rec.State
		out.AnchoredRevision = rec.ProfileRevision
		out.TxRef = rec.TxRef
		out.ChainID = rec.ChainID
		out.Confirmations = rec.Confirmations
		out.VerifiedAt = rec.VerifiedAt
		if rec.ErrorKind != "" && (rec.State == StateFailed || rec.State == StateRejected) {
			out.Error = &StatusError{Kind: rec.ErrorKind, Reason: rec.LastError}
		}
		return out, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	prev, err := s.store.GetLatestByFarmer(ctx, farmerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		return nil, err
	}
	out.AnchoredRevision = prev.ProfileRevision
	out.Stale = prev.ProfileRevision < snap.revision
	return out, nil
}

// History lists the farmer's anchor records, newest first, with their transitions.
func (s *Service) History(ctx context.Context, farmerID string, limit int32) ([]HistoryEntry, error) {
	if _, err := s.profiles.GetRevision(ctx, farmerID); err != nil {
		return nil, profileErr(err)
	}
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	records, err := s.store.ListByFarmer(ctx, farmerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		transitions, err := s.store.ListTransitions(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryEntry{Record: rec, Transitions: transitions})
	}
	return out, nil
}

// IsVerified reports whether the profile hash has a verified anchor.
func (s *Service) IsVerified(ctx context.Context, hash []byte) (bool, error) {
	rec, err := s.store.GetLatest(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.State == StateVerified, nil
}

func (s *Service) snapshot(ctx context.Context, farmerID string) (snapshot, error) {
	revision, err := s.profiles.GetRevision(ctx, farmerID)
	if err != nil {
		return snapshot{}, profileErr(err)
	}
	if s.cache != nil {
		res, ok, err := s.cache.Get(ctx, farmerID, revision)
		if err != nil {
			s.logger.Warn("hash cache read failed", "farmer_id", farmerID, "err", err)
		}
		s.metrics.HashCacheLookup(ok)
		if ok {
			return snapshot{revision: revision, result: res}, nil
		}
	}

	p, err := s.profiles.GetProfile(ctx, farmerID)
	if err != nil {
		return snapshot{}, profileErr(err)
	}
	res, err := canonical.Canonicalize(*p)
	if err != nil {
		return snapshot{}, err
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, farmerID, p.Revision, res); err != nil {
			s.logger.Warn("hash cache write failed", "farmer_id", farmerID, "err", err)
		}
	}
	return snapshot{revision: p.Revision, result: res}, nil
}

func profileErr(err error) error {
	if errors.Is(err, farmer.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "farmer profile not found", err)
	}
	return err
}
