package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/prappser/prappser_media/internal/mediaerr"
)

// Backend stores opaque objects addressed by asset keys. Get and Stat wrap
// mediaerr.ErrNotFound when the key does not exist.
type Backend interface {
	Store(ctx context.Context, key string, reader io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type ObjectInfo struct {
	Key  string
	Size int64
}

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierCold     Tier = "cold"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierStandard, TierCold:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("%w: %q", mediaerr.ErrUnknownTier, s)
	}
}

type BackendConfig struct {
	Type        StorageType `mapstructure:"type"`
	LocalPath   string      `mapstructure:"local_path"`
	S3Endpoint  string      `mapstructure:"s3_endpoint"`
	S3Bucket    string      `mapstructure:"s3_bucket"`
	S3AccessKey string      `mapstructure:"s3_access_key"`
	S3SecretKey string      `mapstructure:"s3_secret_key"`
	S3Region    string      `mapstructure:"s3_region"`
	S3UseSSL    bool        `mapstructure:"s3_use_ssl"`
}

func NewBackend(config *BackendConfig) (Backend, error) {
	switch config.Type {
	case StorageTypeS3:
		return NewS3Storage(config)
	default:
		return NewLocalStorage(config)
	}
}

// Tiers maps each storage tier to the backend holding its bytes.
type Tiers map[Tier]Backend

func NewTiers(standard, cold *BackendConfig) (Tiers, error) {
	std, err := NewBackend(standard)
	if err != nil {
		return nil, fmt.Errorf("standard tier: %w", err)
	}
	archive, err := NewBackend(cold)
	if err != nil {
		return nil, fmt.Errorf("cold tier: %w", err)
	}
	return Tiers{TierStandard: std, TierCold: archive}, nil
}

func (t Tiers) Backend(tier Tier) (Backend, error) {
	b, ok := t[tier]
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %q", mediaerr.ErrUnknownTier, tier)
	}
	return b, nil
}
