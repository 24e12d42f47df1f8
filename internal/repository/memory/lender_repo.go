package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	admindomain "github.com/agrimrv/backend/internal/domain/admin"
	"github.com/agrimrv/backend/internal/domain/lender"
)

type LenderRepository struct {
	mu     sync.RWMutex
	offers []*lender.Offer
	now    func() time.Time
}

func NewLenderRepository() *LenderRepository {
	return &LenderRepository{now: func() time.Time { return time.Now().UTC() }}
}

func cloneOffer(o *lender.Offer) lender.Offer {
	out := *o
	out.Tags = append([]string(nil), o.Tags...)
	return out
}

func (r *LenderRepository) GetActiveOffers(_ context.Context) ([]lender.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]lender.Offer, 0, len(r.offers))
	for _, o := range r.offers {
		if o.Active {
			out = append(out, cloneOffer(o))
		}
	}
	return out, nil
}

func (r *LenderRepository) Publish(_ context.Context, in lender.PublishInput) (*lender.Offer, error) {
	o := &lender.Offer{
		ID:                 uuid.NewString(),
		LenderID:           in.LenderID,
		LenderName:         in.LenderName,
		Rating:             in.Rating,
		MinBand:            in.MinBand,
		InterestRateMinBPS: in.InterestRateMinBPS,
		InterestRateMaxBPS: in.InterestRateMaxBPS,
		MaxAmountMinor:     in.MaxAmountMinor,
		Currency:           in.Currency,
		ProcessingDays:     in.ProcessingDays,
		Tags:               append([]string(nil), in.Tags...),
		Active:             true,
		PublishedAt:        r.now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, o)
	out := cloneOffer(o)
	return &out, nil
}

func (r *LenderRepository) GetByID(_ context.Context, offerID string) (*lender.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.offers {
		if o.ID == offerID {
			out := cloneOffer(o)
			return &out, nil
		}
	}
	return nil, lender.ErrNotFound
}

func (r *LenderRepository) Deactivate(_ context.Context, offerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.offers {
		if o.ID == offerID {
			o.Active = false
			return nil
		}
	}
	return lender.ErrNotFound
}

type AdminAuditRepository struct {
	mu      sync.Mutex
	entries []admindomain.AuditEntry
	now     func() time.Time
}

func NewAdminAuditRepository() *AdminAuditRepository {
	return &AdminAuditRepository{now: func() time.Time { return time.Now().UTC() }}
}

func (r *AdminAuditRepository) Log(_ context.Context, in admindomain.AuditLogInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, admindomain.AuditEntry{
		ID:          int64(len(r.entries) + 1),
		AdminUserID: in.AdminUserID,
		Action:      in.Action,
		TargetType:  in.TargetType,
		TargetID:    in.TargetID,
		Payload:     append([]byte(nil), in.Payload...),
		CreatedAt:   r.now(),
	})
	return nil
}

func (r *AdminAuditRepository) List(_ context.Context, limit int32) ([]admindomain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]admindomain.AuditEntry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == int(limit) {
			break
		}
		out = append(out, r.entries[i])
	}
	return out, nil
}
