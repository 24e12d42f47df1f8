package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/domain/eligibility"
	lenderdomain "github.com/agrimrv/backend/internal/domain/lender"
)

type AuditRepository interface {
	Log(ctx context.Context, in AuditLogInput) error
	List(ctx context.Context, limit int32) ([]AuditEntry, error)
}

type AuditLogInput struct {
	AdminUserID string
	Action      string
	TargetType  string
	TargetID    string
	Payload     []byte
}

type AuditEntry struct {
	ID          int64           `json:"id"`
	AdminUserID string          `json:"admin_user_id"`
	Action      string          `json:"action"`
	TargetType  string          `json:"target_type"`
	TargetID    string          `json:"target_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Service struct {
	offerRepo lenderdomain.Repository
	auditRepo AuditRepository
	logger    *slog.Logger
}

func NewService(offerRepo lenderdomain.Repository, auditRepo AuditRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{offerRepo: offerRepo, auditRepo: auditRepo, logger: logger}
}

// PublishOffer adds an offer to the catalog. Published offers are immutable.
func (s *Service) PublishOffer(ctx context.Context, adminUserID string, in lenderdomain.PublishInput) (*lenderdomain.Offer, error) {
	in.LenderID = strings.TrimSpace(in.LenderID)
	in.LenderName = strings.TrimSpace(in.LenderName)
	in.MinBand = strings.ToUpper(strings.TrimSpace(in.MinBand))
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.LenderID == "" || in.LenderName == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "lender_id and lender_name are required")
	}
	if _, err := eligibility.ParseBand(in.MinBand); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "min_band must be A, B or C", err)
	}
	if in.Rating < 0 || in.Rating > 500 {
		return nil, apperr.New(apperr.KindInvalidInput, "rating must be between 0 and 500")
	}
	if in.InterestRateMinBPS < 0 || in.InterestRateMaxBPS < in.InterestRateMinBPS {
		return nil, apperr.New(apperr.KindInvalidInput, "interest rate range is invalid")
	}
	if in.MaxAmountMinor <= 0 || len(in.Currency) != 3 {
		return nil, apperr.New(apperr.KindInvalidInput, "max_amount_minor and a 3-letter currency are required")
	}
	if in.ProcessingDays < 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "processing_days must not be negative")
	}
	in.Tags = normalizeTags(in.Tags)

	created, err := s.offerRepo.Publish(ctx, in)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]any{
		"lender_id":             created.LenderID,
		"min_band":              created.MinBand,
		"rating":                created.Rating,
		"interest_rate_min_bps": created.InterestRateMinBPS,
		"interest_rate_max_bps": created.InterestRateMaxBPS,
		"tags":                  created.Tags,
	})
	s.audit(ctx, AuditLogInput{
		AdminUserID: adminUserID,
		Action:      "offer_published",
		TargetType:  "offer",
		TargetID:    created.ID,
		Payload:     payload,
	})
	return created, nil
}

func (s *Service) DeactivateOffer(ctx context.Context, adminUserID, offerID string) error {
	if strings.TrimSpace(offerID) == "" {
		return apperr.New(apperr.KindInvalidInput, "missing offer id")
	}
	if _, err := s.offerRepo.GetByID(ctx, offerID); err != nil {
		return notFound(err)
	}
	if err := s.offerRepo.Deactivate(ctx, offerID); err != nil {
		return notFound(err)
	}
	payload, _ := json.Marshal(map[string]any{"active": false})
	s.audit(ctx, AuditLogInput{
		AdminUserID: adminUserID,
		Action:      "offer_deactivated",
		TargetType:  "offer",
		TargetID:    offerID,
		Payload:     payload,
	})
	return nil
}

func (s *Service) AuditLog(ctx context.Context, limit int32) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.auditRepo.List(ctx, limit)
}

func (s *Service) audit(ctx context.Context, in AuditLogInput) {
	if err := s.auditRepo.Log(ctx, in); err != nil {
		s.logger.Error("admin audit log write failed", "action", in.Action, "target_id", in.TargetID, "err", err)
	}
}

func notFound(err error) error {
	if errors.Is(err, lenderdomain.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "offer not found", err)
	}
	return err
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
