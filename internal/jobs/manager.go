package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/internal/progress"
)

// RunFunc executes a pipeline, reporting through emitter
type RunFunc func(ctx context.Context, emitter progress.Emitter)

// Manager creates jobs, mirrors their progress events into the store
// and expires finished jobs after the retention window
type Manager struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewManager creates a job manager
func NewManager(store Store, retention, interval time.Duration, logger *zap.Logger) *Manager {
	if retention <= 0 {
		retention = time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Create registers a queued job and returns it with an emitter that
// records its progress
func (m *Manager) Create(ctx context.Context, kind Kind) (*Job, progress.Emitter, error) {
	now := m.now()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(ctx, job); err != nil {
		return nil, nil, err
	}
	m.logger.Info("Job created", zap.String("jobId", job.ID), zap.String("kind", string(kind)))
	return job, m.emitter(job.ID), nil
}

// Submit creates a job and runs fn in the background, detached from the
// caller's context
func (m *Manager) Submit(ctx context.Context, kind Kind, fn RunFunc) (*Job, error) {
	job, emitter, err := m.Create(ctx, kind)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(context.WithoutCancel(ctx), emitter)
	}()
	return job, nil
}

// Wait blocks until every submitted job has returned
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Get returns a job snapshot
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) emitter(id string) progress.Emitter {
	return progress.EmitterFunc(func(e progress.Event) {
		if e.Type == progress.EventHeartbeat {
			return
		}
		now := m.now()
		err := m.store.Update(context.Background(), id, func(job *Job) {
			if job.Finished() {
				return
			}
			job.UpdatedAt = now
			if e.Message != "" {
				job.Message = e.Message
			}
			switch e.Type {
			case progress.EventProgress:
				job.State = StateRunning
				if e.Percent > job.Percent {
					job.Percent = e.Percent
				}
			case progress.EventComplete:
				job.State = StateCompleted
				job.Percent = 100
				job.Result = e.Result
				if e.Result != nil {
					job.AssetGroupID = e.Result.AssetGroupID
				}
				job.FinishedAt = &now
			case progress.EventError:
				job.State = StateFailed
				job.Error = e.Message
				job.FinishedAt = &now
			}
		})
		if err != nil {
			m.logger.Warn("Failed to record job progress", zap.String("jobId", id), zap.Error(err))
		}
	})
}

// Start begins the background cleanup process
func (m *Manager) Start() {
	go m.cleanupLoop()
	m.logger.Info("Job cleanup started", zap.Duration("retention", m.retention))
}

// Stop gracefully stops the cleanup process
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.logger.Info("Job cleanup stopped")
	})
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.RunCleanup(context.Background())
		}
	}
}

// RunCleanup removes jobs that finished before the retention window
func (m *Manager) RunCleanup(ctx context.Context) int {
	removed, err := m.store.DeleteFinishedBefore(ctx, m.now().Add(-m.retention))
	if err != nil {
		m.logger.Error("Failed to expire jobs", zap.Error(err))
		return 0
	}
	if removed > 0 {
		m.logger.Info("Expired finished jobs", zap.Int("removed", removed))
	}
	return removed
}
