package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrimrv/backend/internal/domain/farmer"
)

const farmerColumns = `id, full_name, national_id_hash, phone, region, district, village,
  cooperative_member, cooperative_id, attributes, revision, created_at, updated_at`

type FarmerRepository struct {
	pool *pgxpool.Pool
}

func NewFarmerRepository(pool *pgxpool.Pool) *FarmerRepository {
	return &FarmerRepository{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// isUUID guards lookups on UUID columns; a malformed id is simply absent.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanFarmer(row pgx.Row) (*farmer.Profile, error) {
	out := &farmer.Profile{}
	var attrs []byte
	err := row.Scan(&out.ID, &out.FullName, &out.NationalIDHash, &out.Phone, &out.Region, &out.District, &out.Village,
		&out.CooperativeMember, &out.CooperativeID, &attrs, &out.Revision, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, farmer.ErrNotFound
		}
		return nil, err
	}
	out.Attributes = map[string]string{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &out.Attributes); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadSeasons(ctx context.Context, q querier, p *farmer.Profile) error {
	rows, err := q.Query(ctx, `
SELECT id, crop_type, area_hectares::text, sowing_date, status
FROM farmer_seasons WHERE farmer_id = $1 ORDER BY position ASC`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	p.Seasons = p.Seasons[:0]
	for rows.Next() {
		var s farmer.Season
		var area string
		if err := rows.Scan(&s.ID, &s.CropType, &area, &s.SowingDate, &s.Status); err != nil {
			return err
		}
		if s.Area, err = decimal.NewFromString(area); err != nil {
			return err
		}
		p.Seasons = append(p.Seasons, s)
	}
	return rows.Err()
}

func (r *FarmerRepository) GetProfile(ctx context.Context, farmerID string) (*farmer.Profile, error) {
	if !isUUID(farmerID) {
		return nil, farmer.ErrNotFound
	}
	p, err := scanFarmer(r.pool.QueryRow(ctx, `SELECT `+farmerColumns+` FROM farmers WHERE id = $1`, farmerID))
	if err != nil {
		return nil, err
	}
	if err := loadSeasons(ctx, r.pool, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *FarmerRepository) GetRevision(ctx context.Context, farmerID string) (int64, error) {
	if !isUUID(farmerID) {
		return 0, farmer.ErrNotFound
	}
	var rev int64
	err := r.pool.QueryRow(ctx, `SELECT revision FROM farmers WHERE id = $1`, farmerID).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, farmer.ErrNotFound
	}
	return rev, err
}

func (r *FarmerRepository) Create(ctx context.Context, in farmer.CreateInput) (*farmer.Profile, error) {
	attrs, err := json.Marshal(nonNilAttrs(in.Attributes))
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO farmers (full_name, national_id_hash, phone, region, district, village, cooperative_member, cooperative_id, attributes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
RETURNING ` + farmerColumns
	return scanFarmer(r.pool.QueryRow(ctx, q,
		strings.TrimSpace(in.FullName), strings.TrimSpace(in.NationalIDHash), strings.TrimSpace(in.Phone),
		strings.TrimSpace(in.Region), strings.TrimSpace(in.District), strings.TrimSpace(in.Village),
		in.CooperativeMember, strings.TrimSpace(in.CooperativeID), attrs,
	))
}

// mutate locks the farmer row, checks the revision, applies fn inside the
// transaction and bumps the revision.
func (r *FarmerRepository) mutate(ctx context.Context, farmerID string, expectedRevision int64, fn func(tx pgx.Tx, p *farmer.Profile) error) (*farmer.Profile, error) {
	if !isUUID(farmerID) {
		return nil, farmer.ErrNotFound
	}
	var out *farmer.Profile
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := scanFarmer(tx.QueryRow(ctx, `SELECT `+farmerColumns+` FROM farmers WHERE id = $1 FOR UPDATE`, farmerID))
		if err != nil {
			return err
		}
		if p.Revision != expectedRevision {
			return farmer.ErrRevisionConflict
		}
		if err := loadSeasons(ctx, tx, p); err != nil {
			return err
		}
		if err := fn(tx, p); err != nil {
			return err
		}
		attrs, err := json.Marshal(nonNilAttrs(p.Attributes))
		if err != nil {
			return err
		}
		q := `
UPDATE farmers SET phone = $2, region = $3, district = $4, village = $5, cooperative_member = $6,
  cooperative_id = $7, attributes = $8::jsonb, revision = revision + 1, updated_at = NOW()
WHERE id = $1
RETURNING ` + farmerColumns
		updated, err := scanFarmer(tx.QueryRow(ctx, q, p.ID, p.Phone, p.Region, p.District, p.Village,
			p.CooperativeMember, p.CooperativeID, attrs))
		if err != nil {
			return err
		}
		if err := loadSeasons(ctx, tx, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FarmerRepository) UpdateContact(ctx context.Context, farmerID string, expectedRevision int64, in farmer.ContactUpdate) (*farmer.Profile, error) {
	return r.mutate(ctx, farmerID, expectedRevision, func(_ pgx.Tx, p *farmer.Profile) error {
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
		for k, v := range in.Attributes {
			if strings.TrimSpace(v) == "" {
				delete(p.Attributes, k)
				continue
			}
			p.Attributes[k] = v
		}
		return nil
	})
}

func (r *FarmerRepository) AddSeason(ctx context.Context, farmerID string, expectedRevision int64, in farmer.SeasonInput) (*farmer.Profile, error) {
	return r.mutate(ctx, farmerID, expectedRevision, func(tx pgx.Tx, p *farmer.Profile) error {
		q := `
INSERT INTO farmer_seasons (farmer_id, position, crop_type, area_hectares, sowing_date, status)
VALUES ($1, $2, $3, $4::numeric, $5, $6)
`
		_, err := tx.Exec(ctx, q, p.ID, len(p.Seasons), in.CropType, in.Area.String(), in.SowingDate, in.Status)
		return err
	})
}

func (r *FarmerRepository) UpdateSeasonStatus(ctx context.Context, farmerID string, expectedRevision int64, seasonID, status string) (*farmer.Profile, error) {
	return r.mutate(ctx, farmerID, expectedRevision, func(tx pgx.Tx, p *farmer.Profile) error {
		tag, err := tx.Exec(ctx, `UPDATE farmer_seasons SET status = $3 WHERE farmer_id = $1 AND id = $2`, p.ID, seasonID, status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return farmer.ErrSeasonNotFound
		}
		return nil
	})
}

func nonNilAttrs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
