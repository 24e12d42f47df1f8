package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimrv/backend/internal/domain/lender"
)

const offerColumns = `id, lender_id, lender_name, rating, min_band, interest_rate_min_bps, interest_rate_max_bps,
  max_amount_minor, currency, processing_days, tags, active, published_at`

type LenderRepository struct {
	pool *pgxpool.Pool
}

func NewLenderRepository(pool *pgxpool.Pool) *LenderRepository {
	return &LenderRepository{pool: pool}
}

func scanOffer(row pgx.Row) (*lender.Offer, error) {
	out := &lender.Offer{}
	err := row.Scan(&out.ID, &out.LenderID, &out.LenderName, &out.Rating, &out.MinBand, &out.InterestRateMinBPS,
		&out.InterestRateMaxBPS, &out.MaxAmountMinor, &out.Currency, &out.ProcessingDays, &out.Tags, &out.Active, &out.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lender.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (r *LenderRepository) Publish(ctx context.Context, in lender.PublishInput) (*lender.Offer, error) {
	q := `
INSERT INTO lender_offers (lender_id, lender_name, rating, min_band, interest_rate_min_bps, interest_rate_max_bps,
  max_amount_minor, currency, processing_days, tags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + offerColumns
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	return scanOffer(r.pool.QueryRow(ctx, q, in.LenderID, in.LenderName, in.Rating, in.MinBand, in.InterestRateMinBPS,
		in.InterestRateMaxBPS, in.MaxAmountMinor, in.Currency, in.ProcessingDays, tags))
}

func (r *LenderRepository) GetByID(ctx context.Context, offerID string) (*lender.Offer, error) {
	if !isUUID(offerID) {
		return nil, lender.ErrNotFound
	}
	q := `SELECT ` + offerColumns + ` FROM lender_offers WHERE id = $1`
	return scanOffer(r.pool.QueryRow(ctx, q, offerID))
}

func (r *LenderRepository) Deactivate(ctx context.Context, offerID string) error {
	if !isUUID(offerID) {
		return lender.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `UPDATE lender_offers SET active = FALSE WHERE id = $1`, offerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lender.ErrNotFound
	}
	return nil
}

// GetActiveOffers reads the catalog in one statement, so the result is a
// consistent snapshot.
func (r *LenderRepository) GetActiveOffers(ctx context.Context) ([]lender.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM lender_offers WHERE active ORDER BY published_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]lender.Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}
