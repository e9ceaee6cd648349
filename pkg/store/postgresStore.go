package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/go-notify/pkg/job"
)

const pgUniqueViolation = "23505"

const jobColumns = `id, type, priority, attempts, max_attempts, created_at, scheduled_for,
processed_at, completed_at, failed_at, abandoned_at, last_error, message, receipt`

// terminalSQL matches job.IsTerminal.
const terminalSQL = `(completed_at IS NOT NULL OR (failed_at IS NOT NULL AND (abandoned_at IS NOT NULL OR attempts >= max_attempts)))`

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore keeps jobs in a single table. Update runs in a transaction
// holding a row lock.
type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// EnsureSchema creates the jobs table and its due index when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	scheduled_for TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	failed_at TIMESTAMPTZ,
	abandoned_at TIMESTAMPTZ,
	last_error TEXT NOT NULL DEFAULT '',
	message JSONB NOT NULL,
	receipt JSONB
);
CREATE INDEX IF NOT EXISTS %[1]s_due_idx ON %[1]s (scheduled_for) WHERE completed_at IS NULL`, p.table)

	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

func (p *PostgresStore) Insert(ctx context.Context, j *job.Job) error {
	return p.withSpan(ctx, "Insert", func(ctx context.Context) (int, error) {
		args, err := jobArgs(j)
		if err != nil {
			return 0, err
		}
		_, err = p.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, p.table, jobColumns),
			args...)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return 0, ErrJobExists
		}
		return 1, err
	})
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*job.Job, error) {
	var found *job.Job
	err := p.withSpan(ctx, "Get", func(ctx context.Context) (int, error) {
		row := p.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, p.table), id)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrJobNotFound
		}
		if err != nil {
			return 0, err
		}
		found = j
		return 1, nil
	})
	return found, err
}

func (p *PostgresStore) Update(ctx context.Context, id string, fn func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := p.withTransaction(ctx, "Update", func(ctx context.Context, tx *sql.Tx) (int, error) {
		row := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, jobColumns, p.table), id)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrJobNotFound
		}
		if err != nil {
			return 0, err
		}

		if err := fn(j); err != nil {
			return 0, err
		}

		args, err := jobArgs(j)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET type = $2, priority = $3, attempts = $4, max_attempts = $5, created_at = $6,
scheduled_for = $7, processed_at = $8, completed_at = $9, failed_at = $10, abandoned_at = $11,
last_error = $12, message = $13, receipt = $14 WHERE id = $1`, p.table),
			args...)
		if err != nil {
			return 0, err
		}
		updated = j
		return 1, nil
	})
	return updated, err
}

func (p *PostgresStore) Due(ctx context.Context, now time.Time) ([]*job.Job, error) {
	var jobs []*job.Job
	err := p.withSpan(ctx, "Due", func(ctx context.Context) (int, error) {
		var err error
		jobs, err = p.query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE NOT %s AND scheduled_for <= $1 ORDER BY priority DESC, created_at ASC, id ASC`,
				jobColumns, p.table, terminalSQL),
			now)
		return len(jobs), err
	})
	return jobs, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*job.Job, error) {
	var jobs []*job.Job
	err := p.withSpan(ctx, "List", func(ctx context.Context) (int, error) {
		var err error
		jobs, err = p.query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC`, jobColumns, p.table))
		return len(jobs), err
	})
	return jobs, err
}

func (p *PostgresStore) Purge(ctx context.Context, before time.Time) (int, error) {
	var removed int
	err := p.withSpan(ctx, "Purge", func(ctx context.Context) (int, error) {
		res, err := p.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1 AND %s`, p.table, terminalSQL), before)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		removed = int(n)
		return removed, nil
	})
	return removed, err
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*job.Job, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *PostgresStore) withSpan(ctx context.Context, spanName string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "postgres."+spanName)
	defer span.End()

	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		return recordError(span, err)
	}
	addDBStatsToSpan(span, "postgresql", spanName, n, time.Since(start))
	return nil
}

func (p *PostgresStore) withTransaction(ctx context.Context, spanName string, fn func(ctx context.Context, tx *sql.Tx) (int, error)) error {
	return p.withSpan(ctx, spanName, func(ctx context.Context) (int, error) {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, err
		}

		n, err := fn(ctx, tx)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		return n, tx.Commit()
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                                       job.Job
		typ                                     string
		processed, completed, failed, abandoned sql.NullTime
		message, receipt                        []byte
	)
	if err := row.Scan(&j.ID, &typ, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.CreatedAt, &j.ScheduledFor,
		&processed, &completed, &failed, &abandoned, &j.LastError, &message, &receipt); err != nil {
		return nil, err
	}
	j.Type = job.Type(typ)
	j.ProcessedAt = timePtr(processed)
	j.CompletedAt = timePtr(completed)
	j.FailedAt = timePtr(failed)
	j.AbandonedAt = timePtr(abandoned)

	if err := json.Unmarshal(message, &j.Message); err != nil {
		return nil, fmt.Errorf("decode message of job %s: %w", j.ID, err)
	}
	if len(receipt) > 0 && !strings.EqualFold(string(receipt), "null") {
		j.Receipt = &job.Receipt{}
		if err := json.Unmarshal(receipt, j.Receipt); err != nil {
			return nil, fmt.Errorf("decode receipt of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

// jobArgs returns the column values in jobColumns order.
func jobArgs(j *job.Job) ([]any, error) {
	message, err := json.Marshal(j.Message)
	if err != nil {
		return nil, err
	}
	var receipt any
	if j.Receipt != nil {
		b, err := json.Marshal(j.Receipt)
		if err != nil {
			return nil, err
		}
		receipt = b
	}
	return []any{
		j.ID, string(j.Type), int(j.Priority), j.Attempts, j.MaxAttempts, j.CreatedAt, j.ScheduledFor,
		nullTime(j.ProcessedAt), nullTime(j.CompletedAt), nullTime(j.FailedAt), nullTime(j.AbandonedAt),
		j.LastError, message, receipt,
	}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
