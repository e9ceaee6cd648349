package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/zoff-tech/go-notify/pkg/job"
)

var spannerColumns = []string{"id", "type", "priority", "attempts", "max_attempts", "created_at", "scheduled_for",
	"processed_at", "completed_at", "failed_at", "abandoned_at", "last_error", "message", "receipt"}

// spannerRow mirrors the jobs table. Message and receipt are JSON text.
type spannerRow struct {
	ID           string             `spanner:"id"`
	Type         string             `spanner:"type"`
	Priority     int64              `spanner:"priority"`
	Attempts     int64              `spanner:"attempts"`
	MaxAttempts  int64              `spanner:"max_attempts"`
	CreatedAt    time.Time          `spanner:"created_at"`
	ScheduledFor time.Time          `spanner:"scheduled_for"`
	ProcessedAt  spanner.NullTime   `spanner:"processed_at"`
	CompletedAt  spanner.NullTime   `spanner:"completed_at"`
	FailedAt     spanner.NullTime   `spanner:"failed_at"`
	AbandonedAt  spanner.NullTime   `spanner:"abandoned_at"`
	LastError    string             `spanner:"last_error"`
	Message      string             `spanner:"message"`
	Receipt      spanner.NullString `spanner:"receipt"`
}

// SpannerStore keeps jobs in a Cloud Spanner table. Update runs inside a
// read-write transaction.
type SpannerStore struct {
	client *spanner.Client
	table  string
}

func NewSpannerStore(client *spanner.Client, table string) (*SpannerStore, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	return &SpannerStore{client: client, table: table}, nil
}

// SpannerDDL returns the CREATE TABLE statement for the jobs table.
func SpannerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
	id STRING(64) NOT NULL,
	type STRING(64) NOT NULL,
	priority INT64 NOT NULL,
	attempts INT64 NOT NULL,
	max_attempts INT64 NOT NULL,
	created_at TIMESTAMP NOT NULL,
	scheduled_for TIMESTAMP NOT NULL,
	processed_at TIMESTAMP,
	completed_at TIMESTAMP,
	failed_at TIMESTAMP,
	abandoned_at TIMESTAMP,
	last_error STRING(MAX) NOT NULL,
	message STRING(MAX) NOT NULL,
	receipt STRING(MAX)
) PRIMARY KEY (id)`, table)
}

func (s *SpannerStore) Insert(ctx context.Context, j *job.Job) error {
	return s.withSpan(ctx, "Insert", func(ctx context.Context) (int, error) {
		row, err := toSpannerRow(j)
		if err != nil {
			return 0, err
		}
		m, err := spanner.InsertStruct(s.table, row)
		if err != nil {
			return 0, err
		}
		_, err = s.client.Apply(ctx, []*spanner.Mutation{m})
		if spanner.ErrCode(err) == codes.AlreadyExists {
			return 0, ErrJobExists
		}
		return 1, err
	})
}

func (s *SpannerStore) Get(ctx context.Context, id string) (*job.Job, error) {
	var found *job.Job
	err := s.withSpan(ctx, "Get", func(ctx context.Context) (int, error) {
		row, err := s.client.Single().ReadRow(ctx, s.table, spanner.Key{id}, spannerColumns)
		if err != nil {
			return 0, notFound(err)
		}
		found, err = decodeSpannerRow(row)
		return 1, err
	})
	return found, err
}

func (s *SpannerStore) Update(ctx context.Context, id string, fn func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := s.withSpan(ctx, "Update", func(ctx context.Context) (int, error) {
		_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			row, err := txn.ReadRow(ctx, s.table, spanner.Key{id}, spannerColumns)
			if err != nil {
				return notFound(err)
			}
			j, err := decodeSpannerRow(row)
			if err != nil {
				return err
			}
			if err := fn(j); err != nil {
				return err
			}
			r, err := toSpannerRow(j)
			if err != nil {
				return err
			}
			m, err := spanner.UpdateStruct(s.table, r)
			if err != nil {
				return err
			}
			updated = j
			return txn.BufferWrite([]*spanner.Mutation{m})
		})
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SpannerStore) Due(ctx context.Context, now time.Time) ([]*job.Job, error) {
	var due []*job.Job
	err := s.withSpan(ctx, "Due", func(ctx context.Context) (int, error) {
		stmt := spanner.Statement{
			SQL: fmt.Sprintf(`SELECT %s FROM %s
              WHERE completed_at IS NULL AND scheduled_for <= @now
              ORDER BY priority DESC, created_at ASC, id ASC`, jobColumns, s.table),
			Params: map[string]interface{}{"now": now},
		}
		jobs, err := s.query(ctx, s.client.Single(), stmt)
		if err != nil {
			return 0, err
		}
		for _, j := range jobs {
			if !job.IsTerminal(j) {
				due = append(due, j)
			}
		}
		return len(due), nil
	})
	return due, err
}

func (s *SpannerStore) List(ctx context.Context) ([]*job.Job, error) {
	var all []*job.Job
	err := s.withSpan(ctx, "List", func(ctx context.Context) (int, error) {
		stmt := spanner.Statement{
			SQL: fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC`, jobColumns, s.table),
		}
		var err error
		all, err = s.query(ctx, s.client.Single(), stmt)
		return len(all), err
	})
	return all, err
}

func (s *SpannerStore) Purge(ctx context.Context, before time.Time) (int, error) {
	var removed int
	err := s.withSpan(ctx, "Purge", func(ctx context.Context) (int, error) {
		_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			removed = 0
			stmt := spanner.Statement{
				SQL:    fmt.Sprintf(`SELECT %s FROM %s WHERE created_at < @before`, jobColumns, s.table),
				Params: map[string]interface{}{"before": before},
			}
			candidates, err := s.query(ctx, txn, stmt)
			if err != nil {
				return err
			}
			var mutations []*spanner.Mutation
			for _, j := range candidates {
				if purgeable(j, before) {
					mutations = append(mutations, spanner.Delete(s.table, spanner.Key{j.ID}))
				}
			}
			if len(mutations) == 0 {
				return nil
			}
			removed = len(mutations)
			return txn.BufferWrite(mutations)
		})
		return removed, err
	})
	return removed, err
}

func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}

type spannerQuerier interface {
	Query(ctx context.Context, statement spanner.Statement) *spanner.RowIterator
}

func (s *SpannerStore) query(ctx context.Context, q spannerQuerier, stmt spanner.Statement) ([]*job.Job, error) {
	iter := q.Query(ctx, stmt)
	defer iter.Stop()

	var jobs []*job.Job
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		j, err := decodeSpannerRow(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *SpannerStore) withSpan(ctx context.Context, spanName string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "spanner."+spanName)
	defer span.End()

	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		return recordError(span, err)
	}
	addDBStatsToSpan(span, "spanner", spanName, n, time.Since(start))
	return nil
}

func notFound(err error) error {
	if spanner.ErrCode(err) == codes.NotFound {
		return ErrJobNotFound
	}
	return err
}

func decodeSpannerRow(row *spanner.Row) (*job.Job, error) {
	var r spannerRow
	if err := row.ToStruct(&r); err != nil {
		return nil, err
	}
	return fromSpannerRow(r)
}

func toSpannerRow(j *job.Job) (spannerRow, error) {
	message, err := json.Marshal(j.Message)
	if err != nil {
		return spannerRow{}, err
	}
	r := spannerRow{
		ID:           j.ID,
		Type:         string(j.Type),
		Priority:     int64(j.Priority),
		Attempts:     int64(j.Attempts),
		MaxAttempts:  int64(j.MaxAttempts),
		CreatedAt:    j.CreatedAt,
		ScheduledFor: j.ScheduledFor,
		ProcessedAt:  spannerTime(j.ProcessedAt),
		CompletedAt:  spannerTime(j.CompletedAt),
		FailedAt:     spannerTime(j.FailedAt),
		AbandonedAt:  spannerTime(j.AbandonedAt),
		LastError:    j.LastError,
		Message:      string(message),
	}
	if j.Receipt != nil {
		receipt, err := json.Marshal(j.Receipt)
		if err != nil {
			return spannerRow{}, err
		}
		r.Receipt = spanner.NullString{StringVal: string(receipt), Valid: true}
	}
	return r, nil
}

func fromSpannerRow(r spannerRow) (*job.Job, error) {
	j := &job.Job{
		ID:           r.ID,
		Type:         job.Type(r.Type),
		Priority:     job.Priority(r.Priority),
		Attempts:     int(r.Attempts),
		MaxAttempts:  int(r.MaxAttempts),
		CreatedAt:    r.CreatedAt,
		ScheduledFor: r.ScheduledFor,
		ProcessedAt:  fromSpannerTime(r.ProcessedAt),
		CompletedAt:  fromSpannerTime(r.CompletedAt),
		FailedAt:     fromSpannerTime(r.FailedAt),
		AbandonedAt:  fromSpannerTime(r.AbandonedAt),
		LastError:    r.LastError,
	}
	if err := json.Unmarshal([]byte(r.Message), &j.Message); err != nil {
		return nil, fmt.Errorf("decode message of job %s: %w", r.ID, err)
	}
	if r.Receipt.Valid {
		j.Receipt = &job.Receipt{}
		if err := json.Unmarshal([]byte(r.Receipt.StringVal), j.Receipt); err != nil {
			return nil, fmt.Errorf("decode receipt of job %s: %w", r.ID, err)
		}
	}
	return j, nil
}

func spannerTime(t *time.Time) spanner.NullTime {
	if t == nil {
		return spanner.NullTime{}
	}
	return spanner.NullTime{Time: *t, Valid: true}
}

func fromSpannerTime(t spanner.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
