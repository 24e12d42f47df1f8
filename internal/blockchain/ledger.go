package blockchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrRejected marks a conclusive refusal by the ledger. Anything else a
	// Ledger returns is treated as transient.
	ErrRejected   = errors.New("ledger rejected transaction")
	ErrUnknownTx  = errors.New("unknown transaction reference")
	ErrMissingKey = errors.New("missing idempotency key")
)

type Status struct {
	Confirmed bool
	Depth     int64
	Rejected  bool
	Reason    string
}

// Ledger is the narrow contract to the external anchoring chain. Submit must
// be safe to retry with the same idempotency key: a repeated call returns the
// reference of the original transaction instead of creating a new one.
type Ledger interface {
	Submit(ctx context.Context, idempotencyKey string, payload []byte) (string, error)
	GetStatus(ctx context.Context, txRef string) (Status, error)
	ChainID() string
}

type stubTx struct {
	key    string
	polls  int64
	reject string
}

// StubLedger is an in-process ledger for local runs and tests. Each GetStatus
// call on a transaction advances its confirmation depth by one block.
type StubLedger struct {
	chainID string

	mu    sync.Mutex
	byKey map[string]string
	txs   map[string]*stubTx
	now   func() time.Time
}

func NewStubLedger(chainID string) *StubLedger {
	if strings.TrimSpace(chainID) == "" {
		chainID = "stub"
	}
	return &StubLedger{
		chainID: chainID,
		byKey:   map[string]string{},
		txs:     map[string]*stubTx{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *StubLedger) ChainID() string {
	return l.chainID
}

func (l *StubLedger) Submit(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := strings.ToLower(strings.TrimSpace(idempotencyKey))
	if key == "" {
		return "", ErrMissingKey
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrRejected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ref, ok := l.byKey[key]; ok {
		return ref, nil
	}
	prefix := strings.TrimPrefix(key, "0x")
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	ref := fmt.Sprintf("0xstub%s%x", prefix, l.now().UnixNano())
	l.byKey[key] = ref
	l.txs[ref] = &stubTx{key: key}
	return ref, nil
}

func (l *StubLedger) GetStatus(ctx context.Context, txRef string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[txRef]
	if !ok {
		return Status{}, ErrUnknownTx
	}
	if tx.reject != "" {
		return Status{Rejected: true, Reason: tx.reject}, nil
	}
	tx.polls++
	return Status{Confirmed: true, Depth: tx.polls}, nil
}

// Reject makes every later GetStatus for txRef report a rejection.
func (l *StubLedger) Reject(txRef, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tx, ok := l.txs[txRef]; ok {
		tx.reject = reason
	}
}

// Transactions returns the number of distinct transactions created.
func (l *StubLedger) Transactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}
