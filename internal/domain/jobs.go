package domain

import (
	"context"
	"errors"
	"time"
)

// ErrJobLocked is returned when another replica holds the job lock.
var ErrJobLocked = errors.New("job is locked by another runner")

// JobName identifies a periodic job.
type JobName string

const (
	JobRanking   JobName = "ranking"
	JobRetention JobName = "retention"
)

// JobEventType describes what happened.
type JobEventType string

const (
	EventRankingCompleted   JobEventType = "ranking.completed"
	EventRetentionCompleted JobEventType = "retention.completed"
	EventRewardGranted      JobEventType = "reward.granted"
)

// JobEvent is published after job runs and reward grants.
type JobEvent struct {
	ID         string         `json:"event_id"`
	Type       JobEventType   `json:"type"`
	Job        JobName        `json:"job,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventPublisher delivers job events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event JobEvent) error
}

// JobLocker runs fn only if the named lock can be obtained. It returns
// ErrJobLocked without calling fn when another runner holds it.
type JobLocker interface {
	Run(ctx context.Context, name JobName, ttl time.Duration, fn func(ctx context.Context) error) error
}

// JobRun is the persisted summary of the last run of a job.
type JobRun struct {
	Job        JobName        `json:"job"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     string         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
}

// JobRunStore keeps the last run of each job so restarts do not rerun a
// period that already completed.
type JobRunStore interface {
	SaveLastRun(ctx context.Context, run JobRun) error
	LastRun(ctx context.Context, job JobName) (JobRun, bool, error)
}
