package anchor

import (
	"context"
	"errors"
	"time"

	"github.com/agrimrv/backend/internal/apperr"
)

type State string

const (
	// StateUnanchored is never stored; it is reported when no record exists.
	StateUnanchored          State = "unanchored"
	StateSubmitting          State = "submitting"
	StatePendingConfirmation State = "pending_confirmation"
	StateVerified            State = "verified"
	StateFailed              State = "failed"
	StateRejected            State = "rejected"
)

func (s State) IsTerminal() bool {
	return s == StateVerified || s == StateFailed || s == StateRejected
}

func (s State) Valid() bool {
	switch s {
	case StateSubmitting, StatePendingConfirmation, StateVerified, StateFailed, StateRejected:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound     = errors.New("anchor record not found")
	ErrActiveExists = errors.New("active anchor record exists for profile hash")
	ErrStaleWrite   = errors.New("anchor record changed concurrently")
)

// Record is one anchoring attempt for a profile hash. Terminal records are
// never mutated; re-anchoring the same hash creates a new record.
type Record struct {
	ID              string
	ProfileHash     []byte
	FarmerID        string
	ProfileRevision int64
	State           State
	TxRef           string
	ChainID         string
	Payload         []byte
	RetryCount      int32
	PollErrors      int32
	Confirmations   int64
	LastError       string
	ErrorKind       apperr.Kind
	NextPollAt      time.Time
	VerifiedAt      *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r Record) Clone() Record {
	out := r
	out.ProfileHash = append([]byte(nil), r.ProfileHash...)
	out.Payload = append([]byte(nil), r.Payload...)
	if r.VerifiedAt != nil {
		v := *r.VerifiedAt
		out.VerifiedAt = &v
	}
	return out
}

// Transition is an append-only history row written for every state change.
// Updates that leave the state alone (retry counts, poll errors, the next poll
// time) bump Version on the record but add no row, so Transition versions may
// skip numbers.
type Transition struct {
	RecordID  string
	Version   int64
	FromState State
	ToState   State
	TxRef     string
	LastError string
	At        time.Time
}

// Store is the only component allowed to mutate anchor records.
//
// CreateIfAbsent fails with ErrActiveExists when a non-terminal record for the
// same hash exists. Update succeeds only when the stored version still equals
// expectedVersion and the stored record is not terminal; otherwise it returns
// ErrStaleWrite. The returned record carries the new version.
type Store interface {
	GetByID(ctx context.Context, id string) (*Record, error)
	GetActive(ctx context.Context, hash []byte) (*Record, error)
	GetLatest(ctx context.Context, hash []byte) (*Record, error)
	GetLatestByFarmer(ctx context.Context, farmerID string) (*Record, error)
	CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error)
	Update(ctx context.Context, rec *Record, expectedVersion int64) (*Record, error)
	ListByProfile(ctx context.Context, hash []byte) ([]Record, error)
	ListByFarmer(ctx context.Context, farmerID string, limit int32) ([]Record, error)
	ListTransitions(ctx context.Context, recordID string) ([]Transition, error)
	ListDue(ctx context.Context, state State, before time.Time, limit int32) ([]Record, error)
}

type Event struct {
	RecordID    string    `json:"record_id"`
	FarmerID    string    `json:"farmer_id"`
	ProfileHash string    `json:"profile_hash"`
	Revision    int64     `json:"revision"`
	From        State     `json:"from"`
	To          State     `json:"to"`
	TxRef       string    `json:"tx_ref,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers transition events. Delivery is best-effort; a publish
// failure never rolls back a persisted transition.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
