package asset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prappser/prappser_media/internal/storage"
)

type MemoryRepository struct {
	mu     sync.Mutex
	assets map[string]*Asset
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{assets: make(map[string]*Asset)}
}

func (r *MemoryRepository) Create(ctx context.Context, a *Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[a.ID]; exists {
		return fmt.Errorf("asset %s already exists", a.ID)
	}
	stored := *a
	r.assets[a.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.assets[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	result := *a
	return &result, nil
}

func (r *MemoryRepository) SetThumbnailKey(ctx context.Context, id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.assets[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	a.DerivedThumbnailKey = key
	return nil
}

func (r *MemoryRepository) SwitchTier(ctx context.Context, id string, from, to storage.Tier, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.assets[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if a.StorageTier != from {
		return fmt.Errorf("%w: %s is no longer on %s", ErrTierChanged, id, from)
	}
	a.StorageTier = to
	a.StorageKey = key
	return nil
}

func (r *MemoryRepository) ListMigrationCandidates(ctx context.Context, tier storage.Tier, createdBefore int64, limit int) ([]*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*Asset
	for _, a := range r.assets {
		if a.StorageTier == tier && a.CreatedAt < createdBefore && a.DeletedAt == nil {
			copied := *a
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
