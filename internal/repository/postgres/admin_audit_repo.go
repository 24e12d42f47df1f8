package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	admindomain "github.com/agrimrv/backend/internal/domain/admin"
)

type AdminAuditRepository struct {
	pool *pgxpool.Pool
}

func NewAdminAuditRepository(pool *pgxpool.Pool) *AdminAuditRepository {
	return &AdminAuditRepository{pool: pool}
}

func (r *AdminAuditRepository) Log(ctx context.Context, in admindomain.AuditLogInput) error {
	payload := in.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	q := `
INSERT INTO admin_audit_logs (admin_user_id, action, target_type, target_id, payload)
VALUES ($1, $2, $3, $4, $5::jsonb)
`
	_, err := r.pool.Exec(ctx, q, in.AdminUserID, in.Action, in.TargetType, in.TargetID, payload)
	return err
}

func (r *AdminAuditRepository) List(ctx context.Context, limit int32) ([]admindomain.AuditEntry, error) {
	q := `
SELECT id, admin_user_id, action, target_type, target_id, payload, created_at
FROM admin_audit_logs
ORDER BY id DESC
LIMIT $1
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]admindomain.AuditEntry, 0)
	for rows.Next() {
		var e admindomain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AdminUserID, &e.Action, &e.TargetType, &e.TargetID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
