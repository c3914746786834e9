// Package jobs records the state of every pipeline run so callers can
// poll it after the originating connection is gone.
package jobs

import (
	"context"
	"time"

	"github.com/satriahrh/narrasi/domain/entities"
)

// State represents the lifecycle of a job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Kind names the pipeline operation a job runs
type Kind string

const (
	KindGenerate   Kind = "generate"
	KindRegenerate Kind = "regenerate"
	KindRecombine  Kind = "recombine"
)

// Job is a snapshot of one pipeline run
type Job struct {
	ID           string                    `json:"id"`
	Kind         Kind                      `json:"kind"`
	State        State                     `json:"state"`
	Percent      float64                   `json:"percent"`
	Message      string                    `json:"message,omitempty"`
	AssetGroupID string                    `json:"assetGroupId,omitempty"`
	Result       *entities.VoiceoverResult `json:"result,omitempty"`
	Error        string                    `json:"error,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
	FinishedAt   *time.Time                `json:"finishedAt,omitempty"`
}

// Finished reports whether the job reached a terminal state
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// Store persists job snapshots. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn to the stored job atomically
	Update(ctx context.Context, id string, fn func(*Job)) error
	// DeleteFinishedBefore removes finished jobs older than t
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error)
}
