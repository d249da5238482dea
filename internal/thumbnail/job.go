package thumbnail

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Job is one request to derive a thumbnail for an asset. An asset has at
// most one active (pending or running) job at a time.
type Job struct {
	ID          string `json:"id"`
	AssetID     string `json:"assetId"`
	SourceKey   string `json:"sourceKey"`
	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"lastError,omitempty"`
	EnqueuedAt  int64  `json:"enqueuedAt"`
	AvailableAt int64  `json:"availableAt"`
	StartedAt   *int64 `json:"startedAt,omitempty"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
}

var (
	ErrJobNotFound   = errors.New("thumbnail job not found")
	ErrJobNotRunning = errors.New("thumbnail job is not running")
)

type Repository interface {
	// Insert stores job unless its asset already has an active job and
	// reports whether a row was written.
	Insert(ctx context.Context, job *Job) (bool, error)
	GetActiveByAsset(ctx context.Context, assetID string) (*Job, error)
	GetLatestByAsset(ctx context.Context, assetID string) (*Job, error)
	// ClaimNext moves the oldest available pending job to running. It returns
	// nil without error when there is nothing to claim.
	ClaimNext(ctx context.Context, now int64) (*Job, error)
	MarkDone(ctx context.Context, id string, now int64) error
	Retry(ctx context.Context, id, lastError string, availableAt int64) error
	Fail(ctx context.Context, id, lastError string, now int64) error
	// RequeueStale returns running jobs started before cutoff to pending.
	RequeueStale(ctx context.Context, cutoff, now int64) (int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type Config struct {
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	MaxQueueDepth  int           `mapstructure:"max_queue_depth"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	Width          int           `mapstructure:"width"`
	Height         int           `mapstructure:"height"`
	JPEGQuality    int           `mapstructure:"jpeg_quality"`
	FrameOffset    time.Duration `mapstructure:"frame_offset"`
	FFmpegPath     string        `mapstructure:"ffmpeg_path"`
}

func DefaultConfig() Config {
	return Config{
		Workers:        2,
		MaxAttempts:    5,
		MaxQueueDepth:  10000,
		FetchTimeout:   2 * time.Minute,
		PollInterval:   5 * time.Second,
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
		StaleAfter:     15 * time.Minute,
		Width:          320,
		Height:         180,
		JPEGQuality:    85,
		FrameOffset:    time.Second,
		FFmpegPath:     "ffmpeg",
	}
}

// withDefaults fills unset fields. MaxQueueDepth is left alone since zero
// means unbounded.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	return c
}

func (c Config) backoff(attempts int) time.Duration {
	d := c.RetryBaseDelay
	for i := 1; i < attempts && d < c.RetryMaxDelay; i++ {
		d *= 2
	}
	if c.RetryMaxDelay > 0 && d > c.RetryMaxDelay {
		d = c.RetryMaxDelay
	}
	return d
}
