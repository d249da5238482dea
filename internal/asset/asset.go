package asset

import (
	"context"
	"errors"

	"github.com/prappser/prappser_media/internal/storage"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Asset is the storage-facing view of an uploaded media file. StorageKey and
// StorageTier change only through SwitchTier; DerivedThumbnailKey only
// through SetThumbnailKey.
type Asset struct {
	ID                  string       `json:"id"`
	TenantID            string       `json:"tenantId"`
	ProjectID           string       `json:"projectId"`
	Kind                Kind         `json:"kind"`
	StorageKey          string       `json:"storageKey"`
	StorageTier         storage.Tier `json:"storageTier"`
	SizeBytes           int64        `json:"sizeBytes"`
	Checksum            string       `json:"checksum"`
	DerivedThumbnailKey string       `json:"derivedThumbnailKey,omitempty"`
	DeletedAt           *int64       `json:"deletedAt,omitempty"`
	CreatedAt           int64        `json:"createdAt"`
}

var (
	ErrAssetNotFound = errors.New("asset not found")
	// ErrTierChanged means a SwitchTier compare-and-swap lost against another
	// writer.
	ErrTierChanged = errors.New("asset tier changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, a *Asset) error
	GetByID(ctx context.Context, id string) (*Asset, error)
	SetThumbnailKey(ctx context.Context, id, key string) error
	SwitchTier(ctx context.Context, id string, from, to storage.Tier, key string) error
	ListMigrationCandidates(ctx context.Context, tier storage.Tier, createdBefore int64, limit int) ([]*Asset, error)
}
