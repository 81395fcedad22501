package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*auditLogRepo)(nil)

type auditLogRepo struct{ pool *pgxpool.Pool }

func NewAuditRepo(pool *pgxpool.Pool) *auditLogRepo { return &auditLogRepo{pool: pool} }

func (r *auditLogRepo) Save(ctx context.Context, tx repository.Tx, l *model.AuditLog) error {
	const q = `
INSERT INTO admin_operation_logs
  (admin_id, target_user_id, operation_type, operation_detail, before_data, after_data, ip_address, user_agent, created_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7,$8,$9)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, l.AdminID, l.TargetUserID, l.OperationType, l.OperationDetail,
		l.BeforeData, l.AfterData, l.IPAddress, l.UserAgent, l.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&l.ID); err != nil {
		return mapErr(err)
	}
	return nil
}
