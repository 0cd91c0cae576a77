package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store is the persistence contract for call attempts.
//
// Rows are insert-then-update only; there is no delete. All lookups used by
// webhook handling are keyed by the provider call id.
type Store interface {
	Insert(ctx context.Context, a Attempt) error
	GetByProviderCallID(ctx context.Context, providerCallID string) (Attempt, error)
	UpdateStatus(ctx context.Context, providerCallID string, status Status, durationSeconds int) error
	SetAMDResult(ctx context.Context, providerCallID, amdResult string) error
	SetDisposition(ctx context.Context, providerCallID string, d Disposition) error
	ListActiveByUser(ctx context.Context, workspaceID, userID string) ([]Attempt, error)
	ListByUserRange(ctx context.Context, workspaceID, userID string, from, to time.Time) ([]Attempt, error)
}

// PostgresStore persists attempts via database/sql over the pgx driver.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const attemptColumns = `id, workspace_id, user_id, provider_call_id, line_id, to_number, from_number,
contact_id, status, amd_enabled, amd_timeout_seconds, amd_result, disposition, duration, metadata,
created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, a Attempt) error {
	if a.ID == "" || a.WorkspaceID == "" || a.UserID == "" || a.ProviderCallID == "" {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO call_attempts (`+attemptColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		a.ID, a.WorkspaceID, a.UserID, a.ProviderCallID, a.LineID, a.To, a.From,
		a.ContactID, a.Status, a.AMDEnabled, a.AMDTimeoutSeconds, a.AMDResult,
		a.Disposition, a.DurationSeconds, a.Metadata, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("calls: insert attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (Attempt, error) {
	if providerCallID == "" {
		return Attempt{}, ErrInvalidArgument
	}
	row := s.db.QueryRowContext(ctx, `
SELECT `+attemptColumns+`
FROM call_attempts
WHERE provider_call_id = $1`, providerCallID)
	return scanAttempt(row)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, providerCallID string, status Status, durationSeconds int) error {
	if providerCallID == "" || status == "" {
		return ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE call_attempts
SET status = $2, duration = GREATEST(duration, $3), updated_at = $4
WHERE provider_call_id = $1`,
		providerCallID, status, durationSeconds, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("calls: update status: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetAMDResult(ctx context.Context, providerCallID, amdResult string) error {
	if providerCallID == "" {
		return ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE call_attempts
SET amd_result = $2, updated_at = $3
WHERE provider_call_id = $1`,
		providerCallID, amdResult, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("calls: set amd result: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetDisposition(ctx context.Context, providerCallID string, d Disposition) error {
	if providerCallID == "" || d == "" {
		return ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE call_attempts
SET disposition = $2, updated_at = $3
WHERE provider_call_id = $1`,
		providerCallID, d, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("calls: set disposition: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, workspaceID, userID string) ([]Attempt, error) {
	if workspaceID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+attemptColumns+`
FROM call_attempts
WHERE workspace_id = $1 AND user_id = $2
  AND status IN ('initiated', 'ringing', 'in_progress')
ORDER BY created_at`, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("calls: list active: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *PostgresStore) ListByUserRange(ctx context.Context, workspaceID, userID string, from, to time.Time) ([]Attempt, error) {
	if workspaceID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+attemptColumns+`
FROM call_attempts
WHERE workspace_id = $1 AND user_id = $2
  AND created_at >= $3 AND created_at < $4
ORDER BY created_at`, workspaceID, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("calls: list range: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (Attempt, error) {
	var a Attempt
	err := r.Scan(
		&a.ID, &a.WorkspaceID, &a.UserID, &a.ProviderCallID, &a.LineID, &a.To, &a.From,
		&a.ContactID, &a.Status, &a.AMDEnabled, &a.AMDTimeoutSeconds, &a.AMDResult,
		&a.Disposition, &a.DurationSeconds, &a.Metadata, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("calls: scan attempt: %w", err)
	}
	return a, nil
}

func collectAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
