package bus

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/mediaerr"
	"github.com/prappser/prappser_media/internal/thumbnail"
)

// AssetUploaded is published by the upload pipeline once an asset's source
// bytes are durable.
type AssetUploaded struct {
	AssetID    string `json:"asset_id"`
	HappenedAt int64  `json:"happened_at"`
}

// ThumbnailDone is published when a thumbnail job reaches a terminal state.
type ThumbnailDone struct {
	JobID        string `json:"job_id"`
	AssetID      string `json:"asset_id"`
	Status       string `json:"status"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
	HappenedAt   int64  `json:"happened_at"`
}

type publisher interface {
	PublishJSON(subject string, v any) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, assetID, sourceKey string) (*thumbnail.Job, bool, error)
}

// UploadSubscriber turns upload-completed events into thumbnail jobs.
type UploadSubscriber struct {
	queue  enqueuer
	assets asset.Repository
}

func NewUploadSubscriber(queue enqueuer, assets asset.Repository) *UploadSubscriber {
	return &UploadSubscriber{queue: queue, assets: assets}
}

func (s *UploadSubscriber) Subscribe(c *Client, subject, queueGroup string) (*nats.Subscription, error) {
	sub, err := c.QueueSubscribeJSON(subject, queueGroup, s.Handle)
	if err != nil {
		return nil, err
	}
	log.Info().Str("subject", subject).Str("queue", queueGroup).Msg("[NATS] Listening for uploads")
	return sub, nil
}

// Handle processes one raw AssetUploaded payload. Failures are logged and
// dropped; the upload pipeline or an operator can re-enqueue over HTTP.
func (s *UploadSubscriber) Handle(ctx context.Context, data []byte) {
	var event AssetUploaded
	if err := json.Unmarshal(data, &event); err != nil || event.AssetID == "" {
		log.Warn().Err(err).Bytes("payload", data).Msg("[NATS] Ignoring malformed upload event")
		return
	}

	a, err := s.assets.GetByID(ctx, event.AssetID)
	if err != nil {
		log.Warn().Err(err).Str("asset_id", event.AssetID).Msg("[NATS] Upload event for unknown asset")
		return
	}
	if a.Kind == asset.KindAudio {
		log.Debug().Str("asset_id", a.ID).Msg("[NATS] No thumbnail for audio asset")
		return
	}

	job, created, err := s.queue.Enqueue(ctx, a.ID, a.StorageKey)
	switch {
	case errors.Is(err, mediaerr.ErrQueueFull):
		log.Warn().Err(err).Str("asset_id", a.ID).Msg("[NATS] Thumbnail queue full, dropping upload event")
	case err != nil:
		log.Error().Err(err).Str("asset_id", a.ID).Msg("[NATS] Failed to enqueue thumbnail")
	case !created:
		log.Debug().Str("asset_id", a.ID).Str("job_id", job.ID).Msg("[NATS] Thumbnail job already active")
	}
}

// DonePublisher emits ThumbnailDone for terminal job transitions. It
// implements thumbnail.Notifier.
type DonePublisher struct {
	pub     publisher
	subject string
	assets  asset.Repository
}

func NewDonePublisher(pub publisher, subject string, assets asset.Repository) *DonePublisher {
	return &DonePublisher{pub: pub, subject: subject, assets: assets}
}

func (p *DonePublisher) JobUpdated(job *thumbnail.Job) {
	if job.Status != thumbnail.StatusDone && job.Status != thumbnail.StatusFailed {
		return
	}

	event := ThumbnailDone{
		JobID:      job.ID,
		AssetID:    job.AssetID,
		Status:     string(job.Status),
		Attempts:   job.Attempts,
		Error:      job.LastError,
		HappenedAt: time.Now().UnixMilli(),
	}
	if job.Status == thumbnail.StatusDone {
		if a, err := p.assets.GetByID(context.Background(), job.AssetID); err == nil {
			event.ThumbnailKey = a.DerivedThumbnailKey
		}
	}

	if err := p.pub.PublishJSON(p.subject, event); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("[NATS] Failed to publish thumbnail result")
	}
}
