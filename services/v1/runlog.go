package v1

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"servicecatalog-cron/models"

	"github.com/lib/pq"
)

// PostgresRunLog stores the append-only run log and the intent outbox.
type PostgresRunLog struct {
	db *sql.DB
}

func NewPostgresRunLog(db *sql.DB) *PostgresRunLog {
	return &PostgresRunLog{db: db}
}

func (p *PostgresRunLog) AppendRun(ctx context.Context, run models.HealthCheckRun) (bool, error) {
	query := `
		INSERT INTO health_check_runs
			(id, enrollment_id, service_id, script_hash, scheduled_at, started_at, finished_at,
			 exit_code, completed, outcome, log_excerpt, exec_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}
	res, err := p.db.ExecContext(ctx, query,
		run.ID, run.EnrollmentID, run.ServiceID, run.ScriptHash,
		run.ScheduledAt, nullTime(run.StartedAt), nullTime(run.FinishedAt),
		exitCode, run.Completed, string(run.Outcome), run.LogExcerpt, run.ExecError,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const runColumns = `id, enrollment_id, service_id, script_hash, scheduled_at, started_at, finished_at,
	exit_code, completed, outcome, log_excerpt, exec_error`

func (p *PostgresRunLog) GetRuns(ctx context.Context, ids []string) ([]models.HealthCheckRun, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM health_check_runs WHERE id = ANY($1) ORDER BY scheduled_at`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (p *PostgresRunLog) RecentRuns(ctx context.Context, enrollmentID string, limit int) ([]models.HealthCheckRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM health_check_runs WHERE enrollment_id = $1 ORDER BY scheduled_at DESC LIMIT $2`,
		enrollmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]models.HealthCheckRun, error) {
	var out []models.HealthCheckRun
	for rows.Next() {
		var (
			run               models.HealthCheckRun
			started, finished sql.NullTime
			exitCode          sql.NullInt64
			outcome           string
		)
		if err := rows.Scan(&run.ID, &run.EnrollmentID, &run.ServiceID, &run.ScriptHash,
			&run.ScheduledAt, &started, &finished, &exitCode, &run.Completed, &outcome,
			&run.LogExcerpt, &run.ExecError); err != nil {
			return nil, err
		}
		run.StartedAt = started.Time
		run.FinishedAt = finished.Time
		run.Outcome = models.Outcome(outcome)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (p *PostgresRunLog) Enqueue(ctx context.Context, intent models.Intent) (bool, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return false, fmt.Errorf("encode intent %s: %w", intent.Key, err)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO enforcement_intents (key, kind, enrollment_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (key) DO NOTHING`,
		intent.Key, string(intent.Kind), intent.EnrollmentID, payload, intent.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresRunLog) MarkDone(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE enforcement_intents SET status = 'done', done_at = now() WHERE key = $1`, key)
	return err
}

func (p *PostgresRunLog) Delivered(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM intent_deliveries WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

func (p *PostgresRunLog) MarkDelivered(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO intent_deliveries (key, delivered_at) VALUES ($1, now()) ON CONFLICT (key) DO NOTHING`, key)
	return err
}

func (p *PostgresRunLog) Pending(ctx context.Context, limit int) ([]models.Intent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT payload FROM enforcement_intents WHERE status = 'pending' ORDER BY created_at LIMIT $1`,
		sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Intent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var intent models.Intent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, fmt.Errorf("decode intent: %w", err)
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
