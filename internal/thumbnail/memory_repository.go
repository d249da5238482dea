package thumbnail

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

func (r *MemoryRepository) Insert(ctx context.Context, job *Job) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.AssetID == job.AssetID && existing.Status.Active() {
			return false, nil
		}
	}
	stored := *job
	r.jobs[job.ID] = &stored
	return true, nil
}

func (r *MemoryRepository) GetActiveByAsset(ctx context.Context, assetID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.AssetID == assetID && job.Status.Active() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: asset %s", ErrJobNotFound, assetID)
}

func (r *MemoryRepository) GetLatestByAsset(ctx context.Context, assetID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Job
	for _, job := range r.jobs {
		if job.AssetID != assetID {
			continue
		}
		if latest == nil || job.EnqueuedAt > latest.EnqueuedAt ||
			(job.EnqueuedAt == latest.EnqueuedAt && completedAt(job) > completedAt(latest)) {
			latest = job
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: asset %s", ErrJobNotFound, assetID)
	}
	copied := *latest
	return &copied, nil
}

func (r *MemoryRepository) ClaimNext(ctx context.Context, now int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*Job
	for _, job := range r.jobs {
		if job.Status == StatusPending && job.AvailableAt <= now {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AvailableAt != candidates[j].AvailableAt {
			return candidates[i].AvailableAt < candidates[j].AvailableAt
		}
		return candidates[i].EnqueuedAt < candidates[j].EnqueuedAt
	})
	job := candidates[0]
	job.Status = StatusRunning
	job.Attempts++
	started := now
	job.StartedAt = &started
	copied := *job
	return &copied, nil
}

func (r *MemoryRepository) MarkDone(ctx context.Context, id string, now int64) error {
	return r.updateRunning(id, func(job *Job) {
		job.Status = StatusDone
		job.LastError = ""
		job.CompletedAt = &now
	})
}

func (r *MemoryRepository) Retry(ctx context.Context, id, lastError string, availableAt int64) error {
	return r.updateRunning(id, func(job *Job) {
		job.Status = StatusPending
		job.LastError = lastError
		job.AvailableAt = availableAt
	})
}

func (r *MemoryRepository) Fail(ctx context.Context, id, lastError string, now int64) error {
	return r.updateRunning(id, func(job *Job) {
		job.Status = StatusFailed
		job.LastError = lastError
		job.CompletedAt = &now
	})
}

func (r *MemoryRepository) RequeueStale(ctx context.Context, cutoff, now int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, job := range r.jobs {
		if job.Status == StatusRunning && job.StartedAt != nil && *job.StartedAt < cutoff {
			job.Status = StatusPending
			job.AvailableAt = now
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[Status]int{StatusPending: 0, StatusRunning: 0, StatusDone: 0, StatusFailed: 0}
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) updateRunning(id string, apply func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, id)
	}
	apply(job)
	return nil
}

func completedAt(job *Job) int64 {
	if job.CompletedAt == nil {
		return 0
	}
	return *job.CompletedAt
}
