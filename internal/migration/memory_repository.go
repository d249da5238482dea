package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prappser/prappser_media/internal/mediaerr"
)

type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

func (r *MemoryRepository) Create(ctx context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.AssetID == record.AssetID && existing.Status.Active() {
			return fmt.Errorf("%w: asset %s", mediaerr.ErrConcurrentMigration, record.AssetID)
		}
	}
	stored := *record
	r.records[record.ID] = &stored
	return nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status Status, lastError string, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, exists := r.records[id]
	if !exists || !record.Status.Active() {
		return fmt.Errorf("%w: %s is not active", ErrRecordNotFound, id)
	}
	record.Status = status
	record.LastError = lastError
	if !status.Active() {
		completed := now
		record.CompletedAt = &completed
	}
	return nil
}

func (r *MemoryRepository) GetLatestByAsset(ctx context.Context, assetID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Record
	for _, record := range r.records {
		if record.AssetID != assetID {
			continue
		}
		if latest == nil || record.StartedAt > latest.StartedAt ||
			(record.StartedAt == latest.StartedAt && completedAt(record) > completedAt(latest)) {
			latest = record
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: asset %s", ErrRecordNotFound, assetID)
	}
	copied := *latest
	return &copied, nil
}

func (r *MemoryRepository) ListActiveStartedBefore(ctx context.Context, cutoff int64) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []*Record
	for _, record := range r.records {
		if record.Status.Active() && record.StartedAt < cutoff {
			copied := *record
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt < records[j].StartedAt })
	return records, nil
}

func completedAt(r *Record) int64 {
	if r.CompletedAt == nil {
		return 0
	}
	return *r.CompletedAt
}
