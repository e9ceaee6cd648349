package store

import (
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-notify/pkg/job"
)

const tracerName = "go-notify"

func addDBStatsToSpan(span trace.Span, system, statement string, jobsCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("jobsCount", jobsCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}

func recordError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// sortByRank orders jobs the way the scheduler claims them.
func sortByRank(jobs []*job.Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		ja, jb := jobs[a], jobs[b]
		if ja.Priority != jb.Priority {
			return ja.Priority > jb.Priority
		}
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.Before(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})
}

func sortNewestFirst(jobs []*job.Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID > jobs[b].ID
	})
}

// purgeable reports whether j is terminal and older than the cutoff.
func purgeable(j *job.Job, before time.Time) bool {
	return job.IsTerminal(j) && j.CreatedAt.Before(before)
}
