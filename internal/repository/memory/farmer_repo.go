package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrimrv/backend/internal/domain/farmer"
)

type FarmerRepository struct {
	mu       sync.RWMutex
	profiles map[string]*farmer.Profile
	now      func() time.Time
}

func NewFarmerRepository() *FarmerRepository {
	return &FarmerRepository{
		profiles: map[string]*farmer.Profile{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cloneProfile(p *farmer.Profile) *farmer.Profile {
	out := *p
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	out.Seasons = append([]farmer.Season(nil), p.Seasons...)
	return &out
}

func (r *FarmerRepository) GetProfile(_ context.Context, farmerID string) (*farmer.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[farmerID]
	if !ok {
		return nil, farmer.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (r *FarmerRepository) GetRevision(_ context.Context, farmerID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[farmerID]
	if !ok {
		return 0, farmer.ErrNotFound
	}
	return p.Revision, nil
}

func (r *FarmerRepository) Create(_ context.Context, in farmer.CreateInput) (*farmer.Profile, error) {
	now := r.now()
	p := &farmer.Profile{
		ID:                uuid.NewString(),
		FullName:          strings.TrimSpace(in.FullName),
		NationalIDHash:    strings.TrimSpace(in.NationalIDHash),
		Phone:             strings.TrimSpace(in.Phone),
		Region:            strings.TrimSpace(in.Region),
		District:          strings.TrimSpace(in.District),
		Village:           strings.TrimSpace(in.Village),
		CooperativeMember: in.CooperativeMember,
		CooperativeID:     strings.TrimSpace(in.CooperativeID),
		Attributes:        map[string]string{},
		Revision:          1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for k, v := range in.Attributes {
		p.Attributes[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	return cloneProfile(p), nil
}

// Put stores a fully built profile as-is. Used to seed fixtures.
func (r *FarmerRepository) Put(p farmer.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = cloneProfile(&p)
}

func (r *FarmerRepository) mutate(farmerID string, expectedRevision int64, fn func(p *farmer.Profile) error) (*farmer.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.profiles[farmerID]
	if !ok {
		return nil, farmer.ErrNotFound
	}
	if cur.Revision != expectedRevision {
		return nil, farmer.ErrRevisionConflict
	}
	next := cloneProfile(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Revision++
	next.UpdatedAt = r.now()
	r.profiles[farmerID] = next
	return cloneProfile(next), nil
}

func (r *FarmerRepository) UpdateContact(_ context.Context, farmerID string, expectedRevision int64, in farmer.ContactUpdate) (*farmer.Profile, error) {
	return r.mutate(farmerID, expectedRevision, func(p *farmer.Profile) error {
		applyContact(p, in)
		return nil
	})
}

func (r *FarmerRepository) AddSeason(_ context.Context, farmerID string, expectedRevision int64, in farmer.SeasonInput) (*farmer.Profile, error) {
	return r.mutate(farmerID, expectedRevision, func(p *farmer.Profile) error {
		p.Seasons = append(p.Seasons, farmer.Season{
			ID:         uuid.NewString(),
			CropType:   in.CropType,
			Area:       in.Area,
			SowingDate: in.SowingDate,
			Status:     in.Status,
		})
		return nil
	})
}

func (r *FarmerRepository) UpdateSeasonStatus(_ context.Context, farmerID string, expectedRevision int64, seasonID, status string) (*farmer.Profile, error) {
	return r.mutate(farmerID, expectedRevision, func(p *farmer.Profile) error {
		for i := range p.Seasons {
			if p.Seasons[i].ID == seasonID {
				p.Seasons[i].Status = status
				return nil
			}
		}
		return farmer.ErrSeasonNotFound
	})
}

func applyContact(p *farmer.Profile, in farmer.ContactUpdate) {
	if in.Phone != nil {
		p.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Region != nil {
		p.Region = strings.TrimSpace(*in.Region)
	}
	if in.District != nil {
		p.District = strings.TrimSpace(*in.District)
	}
	if in.Village != nil {
		p.Village = strings.TrimSpace(*in.Village)
	}
	if in.CooperativeMember != nil {
		p.CooperativeMember = *in.CooperativeMember
	}
	if in.CooperativeID != nil {
		p.CooperativeID = strings.TrimSpace(*in.CooperativeID)
	}
	if len(in.Attributes) > 0 && p.Attributes == nil {
		p.Attributes = map[string]string{}
	}
	for k, v := range in.Attributes {
		if strings.TrimSpace(v) == "" {
			delete(p.Attributes, k)
			continue
		}
		p.Attributes[k] = v
	}
}
