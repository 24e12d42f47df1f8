package farmer

import (
	"context"
	"errors"
	"strings"

	"github.com/agrimrv/backend/internal/apperr"
)

var (
	ErrNotFound         = errors.New("farmer not found")
	ErrSeasonNotFound   = errors.New("season not found")
	ErrRevisionConflict = errors.New("farmer revision conflict")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Profile, error) {
	if strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.NationalIDHash) == "" || strings.TrimSpace(in.Region) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "full_name, national_id_hash and region are required")
	}
	attrs, err := normalizeAttributes(in.Attributes)
	if err != nil {
		return nil, err
	}
	in.Attributes = attrs
	return s.repo.Create(ctx, in)
}

func (s *Service) Get(ctx context.Context, farmerID string) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, farmerID)
	return p, translate(err)
}

func (s *Service) UpdateContact(ctx context.Context, farmerID string, expectedRevision int64, in ContactUpdate) (*Profile, error) {
	attrs, err := normalizeAttributes(in.Attributes)
	if err != nil {
		return nil, err
	}
	in.Attributes = attrs
	p, err := s.repo.UpdateContact(ctx, farmerID, expectedRevision, in)
	return p, translate(err)
}

func (s *Service) AddSeason(ctx context.Context, farmerID string, expectedRevision int64, in SeasonInput) (*Profile, error) {
	in.CropType = strings.TrimSpace(in.CropType)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if in.Status == "" {
		in.Status = SeasonPlanned
	}
	if in.CropType == "" || !in.Area.IsPositive() || in.SowingDate.IsZero() {
		return nil, apperr.New(apperr.KindInvalidInput, "crop_type, positive area_hectares and sowing_date are required")
	}
	if !ValidSeasonStatus(in.Status) {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown season status "+in.Status)
	}
	p, err := s.repo.AddSeason(ctx, farmerID, expectedRevision, in)
	return p, translate(err)
}

func (s *Service) UpdateSeasonStatus(ctx context.Context, farmerID string, expectedRevision int64, seasonID, status string) (*Profile, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !ValidSeasonStatus(status) {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown season status "+status)
	}
	p, err := s.repo.UpdateSeasonStatus(ctx, farmerID, expectedRevision, seasonID, status)
	return p, translate(err)
}

// normalizeAttributes trims names and values. Names that collide once trimmed
// are rejected so a stored profile never carries two spellings of one key.
func normalizeAttributes(in map[string]string) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		name := strings.TrimSpace(k)
		if name == "" {
			return nil, apperr.New(apperr.KindInvalidInput, "attribute names must not be blank")
		}
		if _, dup := out[name]; dup {
			return nil, apperr.New(apperr.KindInvalidInput, "duplicate attribute "+name)
		}
		out[name] = strings.TrimSpace(v)
	}
	return out, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, "farmer profile not found", err)
	case errors.Is(err, ErrSeasonNotFound):
		return apperr.Wrap(apperr.KindNotFound, "season not found", err)
	case errors.Is(err, ErrRevisionConflict):
		return apperr.Wrap(apperr.KindStaleWrite, "profile changed since it was read; reload and retry", err)
	default:
		return err
	}
}
