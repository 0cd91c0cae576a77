package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo persists audit events to the audit_events table. The table
// is INSERT-only; nothing in this repo can mutate an existing row.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO audit_events
			(id, workspace_id, type, user_id, ip_address, call_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkspaceID, string(e.Type), e.UserID, e.IPAddress,
		e.CallID, e.Message, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
