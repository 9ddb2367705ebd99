package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/repository"
)

var _ repository.ScanOutcomeRepository = (*scanOutcomeRepo)(nil)

const scanOutcomeSchema = `
CREATE TABLE IF NOT EXISTS scan_outcomes (
  job_id      UUID PRIMARY KEY,
  status      TEXT NOT NULL CHECK (status IN ('scanned', 'failed')),
  file_name   TEXT NOT NULL DEFAULT '',
  mime_type   TEXT NOT NULL DEFAULT '',
  file_size   BIGINT NOT NULL DEFAULT 0,
  attempts    INT NOT NULL DEFAULT 0,
  item_count  INT NOT NULL DEFAULT 0,
  total_price NUMERIC(12,2) NOT NULL DEFAULT 0,
  error_code  TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_outcomes_finished_at_idx ON scan_outcomes (finished_at);`

type scanOutcomeRepo struct {
	pool *pgxpool.Pool
}

func NewScanOutcomeRepo(pool *pgxpool.Pool) *scanOutcomeRepo {
	return &scanOutcomeRepo{pool: pool}
}

// EnsureSchema creates the archive table when missing.
func (r *scanOutcomeRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, scanOutcomeSchema); err != nil {
		return fmt.Errorf("ensure scan_outcomes schema: %w", err)
	}
	return nil
}

func (r *scanOutcomeRepo) Save(ctx context.Context, o *model.ScanOutcome) error {
	if o == nil || o.JobID == "" || !o.Status.IsTerminal() {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO scan_outcomes (
  job_id, status, file_name, mime_type, file_size, attempts, item_count, total_price, error_code, created_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (job_id) DO UPDATE SET
  status=EXCLUDED.status, attempts=EXCLUDED.attempts, item_count=EXCLUDED.item_count,
  total_price=EXCLUDED.total_price, error_code=EXCLUDED.error_code, finished_at=EXCLUDED.finished_at;`

	_, err := r.pool.Exec(ctx, q,
		o.JobID, string(o.Status), o.FileName, o.MimeType, o.FileSize, o.Attempts,
		o.ItemCount, o.TotalPrice, o.ErrorCode, o.CreatedAt, o.FinishedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "22P02", "23514": // invalid_text_representation, check_violation
				return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, pgErr.Message)
			}
			return fmt.Errorf("%w: save scan outcome: %s (%s)", domain.ErrOperationFailed, pgErr.Message, pgErr.Code)
		}
		return fmt.Errorf("save scan outcome: %w", err)
	}
	return nil
}

func (r *scanOutcomeRepo) CountByStatus(ctx context.Context) (map[model.ScanJobStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM scan_outcomes GROUP BY status;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count scan outcomes: %w", err)
	}
	defer rows.Close()

	out := map[model.ScanJobStatus]int{
		model.ScanStatusScanned: 0,
		model.ScanStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count row: %w", err)
		}
		out[model.ScanJobStatus(status)] = int(n)
	}
	return out, rows.Err()
}

// Ping checks connectivity and refreshes the pool gauges.
func (r *scanOutcomeRepo) Ping(ctx context.Context) error {
	RecordPoolStats(r.pool)
	return r.pool.Ping(ctx)
}
