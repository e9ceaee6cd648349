package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-notify/pkg/job"
)

var pgColumns = []string{"id", "type", "priority", "attempts", "max_attempts", "created_at", "scheduled_for",
	"processed_at", "completed_at", "failed_at", "abandoned_at", "last_error", "message", "receipt"}

const messageJSON = `{"to":["user@example.com"],"subject":"subject","text":"body"}`

func newPostgresTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewPostgresStore(db, "notification_jobs")
	require.NoError(t, err)
	return s, mock
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func pendingRow(rows *sqlmock.Rows, id string, priority int, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "transactional", priority, 0, 3, createdAt, createdAt,
		nil, nil, nil, nil, "", []byte(messageJSON), nil)
}

func TestPostgresStore_Insert(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec(`INSERT INTO notification_jobs \(id, type, priority`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Insert(context.Background(), newJob("job-1", job.PriorityHigh, baseTime))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDuplicate(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec(`INSERT INTO notification_jobs`).
		WithArgs(anyArgs(14)...).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err := s.Insert(context.Background(), newJob("job-1", job.PriorityHigh, baseTime))
	assert.ErrorIs(t, err, ErrJobExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	failedAt := baseTime.Add(time.Minute)
	rows := sqlmock.NewRows(pgColumns).
		AddRow("job-1", "welcome", 2, 1, 3, baseTime, baseTime.Add(time.Second),
			baseTime, nil, failedAt, nil, "provider returned 503", []byte(messageJSON), nil)
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, job.TypeWelcome, got.Type)
	assert.Equal(t, job.PriorityHigh, got.Priority)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, []string{"user@example.com"}, got.Message.To)
	require.NotNil(t, got.FailedAt)
	assert.Equal(t, failedAt, *got.FailedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Receipt)
	assert.Equal(t, job.StatusRetrying, job.StatusOf(got, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs("job-1").
		WillReturnRows(pendingRow(sqlmock.NewRows(pgColumns), "job-1", 1, baseTime))
	mock.ExpectExec(`UPDATE notification_jobs SET type = \$2, priority = \$3, attempts = \$4`).
		WithArgs(append([]driver.Value{"job-1"}, anyArgs(13)...)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := s.Update(context.Background(), "job-1", func(j *job.Job) error {
		j.Attempts++
		now := baseTime
		j.ProcessedAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Attempts)
	assert.NotNil(t, updated.ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRollsBackOnError(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs("job-1").
		WillReturnRows(pendingRow(sqlmock.NewRows(pgColumns), "job-1", 1, baseTime))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := s.Update(context.Background(), "job-1", func(*job.Job) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateNotFound(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pgColumns))
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), "missing", func(*job.Job) error { return nil })
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Due(t *testing.T) {
	s, mock := newPostgresTestStore(t)
	now := baseTime.Add(time.Minute)

	rows := sqlmock.NewRows(pgColumns)
	pendingRow(rows, "urgent", 3, baseTime.Add(time.Second))
	pendingRow(rows, "normal", 1, baseTime)
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE NOT \(completed_at IS NOT NULL (.+)\) AND scheduled_for <= \$1 ORDER BY priority DESC, created_at ASC, id ASC`).
		WithArgs(now).
		WillReturnRows(rows)

	due, err := s.Due(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "urgent", due[0].ID)
	assert.Equal(t, job.PriorityUrgent, due[0].Priority)
	assert.Equal(t, "normal", due[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	rows := sqlmock.NewRows(pgColumns)
	pendingRow(rows, "new", 1, baseTime.Add(time.Hour))
	rows.AddRow("old", "welcome", 1, 1, 3, baseTime, baseTime,
		baseTime, baseTime, nil, nil, "", []byte(messageJSON), []byte(`{"provider_message_id":"msg_1","delivered_at":"2025-05-01T09:00:00Z"}`))
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs ORDER BY created_at DESC`).
		WillReturnRows(rows)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	require.NotNil(t, all[1].Receipt)
	assert.Equal(t, "msg_1", all[1].Receipt.ProviderMessageID)
	assert.Equal(t, job.StatusCompleted, job.StatusOf(all[1], false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Purge(t *testing.T) {
	s, mock := newPostgresTestStore(t)
	cutoff := baseTime.Add(-24 * time.Hour)

	mock.ExpectExec(`DELETE FROM notification_jobs WHERE created_at < \$1 AND \(completed_at IS NOT NULL`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := s.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS notification_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_RejectsBadTableName(t *testing.T) {
	_, err := NewPostgresStore(nil, "jobs; DROP TABLE users")
	assert.Error(t, err)
}
