package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/assetkey"
	"github.com/prappser/prappser_media/internal/mediaerr"
	"github.com/prappser/prappser_media/internal/metrics"
	"github.com/prappser/prappser_media/internal/storage"
)

// Pool runs a fixed number of workers that claim jobs from the queue. A
// worker finishes the job it holds even after ctx is cancelled; it only
// checks for shutdown between jobs.
type Pool struct {
	queue     *Queue
	assets    asset.Repository
	tiers     storage.Tiers
	extractor Extractor
	config    Config
	wg        sync.WaitGroup
}

func NewPool(queue *Queue, assets asset.Repository, tiers storage.Tiers, extractor Extractor) *Pool {
	return &Pool{
		queue:     queue,
		assets:    assets,
		tiers:     tiers,
		extractor: extractor,
		config:    queue.config,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.recoverStale(ctx)

	workers := p.config.Workers
	log.Info().Int("workers", workers).Msg("[THUMB] Starting worker pool")
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Wait blocks until every worker has returned after ctx cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			log.Debug().Int("worker", id).Msg("[THUMB] Worker stopped")
			return
		}

		processed, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int("worker", id).Msg("[THUMB] Failed to claim job")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-p.queue.wake:
		case <-time.After(p.config.PollInterval):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// processed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.repo.ClaimNext(ctx, p.queue.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	p.queue.notify(job)
	p.process(context.WithoutCancel(ctx), job)
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *Job) {
	started := time.Now()
	logger := log.With().Str("job_id", job.ID).Str("asset_id", job.AssetID).Int("attempt", job.Attempts).Logger()

	err := p.render(ctx, job)
	metrics.ThumbnailDuration.Observe(time.Since(started).Seconds())
	now := p.queue.now()

	var outcome string
	switch {
	case err == nil:
		outcome = "done"
		job.Status = StatusDone
		job.LastError = ""
		completed := now.UnixMilli()
		job.CompletedAt = &completed
		err = p.queue.repo.MarkDone(ctx, job.ID, completed)
		logger.Info().Dur("took", time.Since(started)).Msg("[THUMB] Thumbnail generated")

	case mediaerr.Transient(err) && job.Attempts < p.config.MaxAttempts:
		outcome = "retry"
		delay := p.config.backoff(job.Attempts)
		job.Status = StatusPending
		job.LastError = err.Error()
		job.AvailableAt = now.Add(delay).UnixMilli()
		logger.Warn().Err(err).Dur("retry_in", delay).Msg("[THUMB] Source unavailable, will retry")
		err = p.queue.repo.Retry(ctx, job.ID, job.LastError, job.AvailableAt)

	default:
		outcome = "failed"
		job.Status = StatusFailed
		job.LastError = err.Error()
		completed := now.UnixMilli()
		job.CompletedAt = &completed
		logger.Error().Err(err).Msg("[THUMB] Thumbnail job failed")
		err = p.queue.repo.Fail(ctx, job.ID, job.LastError, completed)
	}

	metrics.ThumbnailJobsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		logger.Error().Err(err).Str("outcome", outcome).Msg("[THUMB] Failed to record job result")
		return
	}
	p.queue.notify(job)
	p.queue.refreshDepth(ctx)
}

func (p *Pool) render(ctx context.Context, job *Job) error {
	a, err := p.assets.GetByID(ctx, job.AssetID)
	if err != nil {
		if errors.Is(err, asset.ErrAssetNotFound) {
			return err
		}
		return fmt.Errorf("%w: load asset: %v", mediaerr.ErrSourceUnavailable, err)
	}

	source, err := p.tiers.Backend(a.StorageTier)
	if err != nil {
		return err
	}
	target, err := p.tiers.Backend(storage.TierStandard)
	if err != nil {
		return err
	}
	key, err := assetkey.Build(a.TenantID, a.ProjectID, a.ID, assetkey.VariantThumbnail, "jpg")
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	rc, err := source.Get(fetchCtx, a.StorageKey)
	if err != nil {
		return fmt.Errorf("%w: fetch %s from %s: %v", mediaerr.ErrSourceUnavailable, a.StorageKey, a.StorageTier, err)
	}
	frame, err := p.extractor.Extract(fetchCtx, a.Kind, rc)
	rc.Close()
	if err != nil {
		if fetchCtx.Err() != nil && !errors.Is(err, mediaerr.ErrSourceUnavailable) {
			return fmt.Errorf("%w: %v", mediaerr.ErrSourceUnavailable, err)
		}
		return err
	}

	data, err := Render(frame, p.config.Width, p.config.Height, p.config.JPEGQuality)
	if err != nil {
		return err
	}
	if err := target.Store(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("%w: store thumbnail: %v", mediaerr.ErrSourceUnavailable, err)
	}
	if err := p.assets.SetThumbnailKey(ctx, a.ID, key); err != nil {
		return fmt.Errorf("%w: record thumbnail: %v", mediaerr.ErrSourceUnavailable, err)
	}
	return nil
}

func (p *Pool) recoverStale(ctx context.Context) {
	if p.config.StaleAfter <= 0 {
		return
	}
	now := p.queue.now()
	n, err := p.queue.repo.RequeueStale(ctx, now.Add(-p.config.StaleAfter).UnixMilli(), now.UnixMilli())
	if err != nil {
		log.Warn().Err(err).Msg("[THUMB] Failed to requeue stale jobs")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("[THUMB] Requeued stale running jobs")
	}
}
