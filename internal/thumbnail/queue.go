package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal/mediaerr"
	"github.com/prappser/prappser_media/internal/metrics"
)

// Notifier is told about every job state change.
type Notifier interface {
	JobUpdated(job *Job)
}

// Queue is the single shared view of thumbnail job state. HTTP handlers,
// the event subscriber and the worker pool all go through one instance.
type Queue struct {
	repo   Repository
	config Config
	wake   chan struct{}
	now    func() time.Time

	mu        sync.RWMutex
	notifiers []Notifier
}

func NewQueue(repo Repository, config Config) *Queue {
	config = config.withDefaults()
	return &Queue{
		repo:   repo,
		config: config,
		wake:   make(chan struct{}, config.Workers),
		now:    time.Now,
	}
}

func (q *Queue) AddNotifier(n Notifier) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notifiers = append(q.notifiers, n)
}

// Enqueue schedules a thumbnail for assetID. When the asset already has a
// pending or running job, that job is returned and created is false. It never
// blocks on workers; when the pending backlog is at the configured bound it
// fails with mediaerr.ErrQueueFull. The bool reports whether a job was created.
func (q *Queue) Enqueue(ctx context.Context, assetID, sourceKey string) (*Job, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		existing, err := q.repo.GetActiveByAsset(ctx, assetID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return nil, false, err
		}

		if q.config.MaxQueueDepth > 0 {
			counts, err := q.repo.CountByStatus(ctx)
			if err != nil {
				return nil, false, err
			}
			if counts[StatusPending] >= q.config.MaxQueueDepth {
				return nil, false, fmt.Errorf("%w: %d jobs pending", mediaerr.ErrQueueFull, counts[StatusPending])
			}
		}

		now := q.now().UnixMilli()
		job := &Job{
			ID:          uuid.NewString(),
			AssetID:     assetID,
			SourceKey:   sourceKey,
			Status:      StatusPending,
			EnqueuedAt:  now,
			AvailableAt: now,
		}
		inserted, err := q.repo.Insert(ctx, job)
		if err != nil {
			return nil, false, err
		}
		if inserted {
			log.Info().Str("asset_id", assetID).Str("job_id", job.ID).Msg("[THUMB] Job enqueued")
			q.signal()
			q.notify(job)
			q.refreshDepth(ctx)
			return job, true, nil
		}
		// lost the insert race; the winner's job is active now unless it
		// already finished, in which case try again
	}
	return nil, false, fmt.Errorf("enqueue %s: active job kept changing", assetID)
}

// Status returns the active job for assetID, or the most recent one.
func (q *Queue) Status(ctx context.Context, assetID string) (*Job, error) {
	job, err := q.repo.GetActiveByAsset(ctx, assetID)
	if err == nil || !errors.Is(err, ErrJobNotFound) {
		return job, err
	}
	return q.repo.GetLatestByAsset(ctx, assetID)
}

// Depth returns job counts by status and updates the queue depth gauge.
func (q *Queue) Depth(ctx context.Context) (map[Status]int, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for status, n := range counts {
		metrics.ThumbnailQueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
	return counts, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notify(job *Job) {
	q.mu.RLock()
	notifiers := q.notifiers
	q.mu.RUnlock()
	for _, n := range notifiers {
		copied := *job
		n.JobUpdated(&copied)
	}
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if _, err := q.Depth(ctx); err != nil {
		log.Warn().Err(err).Msg("[THUMB] Failed to refresh queue depth")
	}
}
