package migration

import (
	"context"
	"errors"
	"time"

	"github.com/prappser/prappser_media/internal/storage"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusCopying      Status = "copying"
	StatusVerifying    Status = "verifying"
	StatusSwitched     Status = "switched"
	StatusCleaning     Status = "cleaning"
	StatusDone         Status = "done"
	StatusVerifyFailed Status = "verify_failed"
	StatusFailed       Status = "failed"
)

// Active reports whether a record in this status blocks another migration of
// the same asset.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusCopying, StatusVerifying, StatusSwitched, StatusCleaning:
		return true
	}
	return false
}

// Record tracks one attempt to move an asset between tiers.
type Record struct {
	ID          string       `json:"id"`
	AssetID     string       `json:"assetId"`
	FromTier    storage.Tier `json:"fromTier"`
	ToTier      storage.Tier `json:"toTier"`
	Status      Status       `json:"status"`
	LastError   string       `json:"lastError,omitempty"`
	StartedAt   int64        `json:"startedAt"`
	CompletedAt *int64       `json:"completedAt,omitempty"`
}

var ErrRecordNotFound = errors.New("migration record not found")

type Repository interface {
	// Create stores a pending record. It fails with
	// mediaerr.ErrConcurrentMigration when the asset already has an active one.
	Create(ctx context.Context, r *Record) error
	// UpdateStatus moves an active record to status. Terminal statuses set
	// completed_at to now.
	UpdateStatus(ctx context.Context, id string, status Status, lastError string, now int64) error
	GetLatestByAsset(ctx context.Context, assetID string) (*Record, error)
	// ListActiveStartedBefore returns active records started before cutoff,
	// oldest first.
	ListActiveStartedBefore(ctx context.Context, cutoff int64) ([]*Record, error)
}

type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	ColdAfter        time.Duration `mapstructure:"cold_after"`
	BatchSize        int           `mapstructure:"batch_size"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	CopyTimeoutFloor time.Duration `mapstructure:"copy_timeout_floor"`
	// AssumedThroughput is in bytes per second.
	AssumedThroughput int64         `mapstructure:"assumed_throughput"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		Interval:          24 * time.Hour,
		ColdAfter:         90 * 24 * time.Hour,
		BatchSize:         500,
		BatchConcurrency:  4,
		CopyTimeoutFloor:  2 * time.Minute,
		AssumedThroughput: 10 << 20,
		StaleAfter:        6 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ColdAfter <= 0 {
		c.ColdAfter = d.ColdAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = d.BatchConcurrency
	}
	if c.CopyTimeoutFloor <= 0 {
		c.CopyTimeoutFloor = d.CopyTimeoutFloor
	}
	if c.AssumedThroughput <= 0 {
		c.AssumedThroughput = d.AssumedThroughput
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	return c
}

// staleAfter is how long a record for an object of size may stay active
// before it is considered abandoned. It covers the reconcile hash, the copy
// and the verification pass, each bounded by copyTimeout.
func (c Config) staleAfter(size int64) time.Duration {
	if d := 3 * c.copyTimeout(size); d > c.StaleAfter {
		return d
	}
	return c.StaleAfter
}

// copyTimeout scales with the object size but never drops below the floor.
func (c Config) copyTimeout(size int64) time.Duration {
	scaled := time.Duration(size/c.AssumedThroughput) * time.Second
	if scaled < c.CopyTimeoutFloor {
		return c.CopyTimeoutFloor
	}
	return scaled
}
