package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/mediaerr"
	"github.com/prappser/prappser_media/internal/metrics"
	"github.com/prappser/prappser_media/internal/storage"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type Result struct {
	AssetID  string       `json:"assetId"`
	From     storage.Tier `json:"from"`
	To       storage.Tier `json:"to"`
	Outcome  Outcome      `json:"outcome"`
	RecordID string       `json:"recordId,omitempty"`
	Bytes    int64        `json:"bytes,omitempty"`
	Error    string       `json:"error,omitempty"`
}

type BatchRequest struct {
	AssetIDs []string     `json:"assetIds"`
	From     storage.Tier `json:"from"`
	To       storage.Tier `json:"to"`
}

type Summary struct {
	Success int      `json:"success"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Migrator moves asset bytes between tiers. Nothing destructive happens
// before the destination copy is verified: the asset pointer flips only after
// verification and the source copy is deleted only after the flip.
type Migrator struct {
	assets  asset.Repository
	tiers   storage.Tiers
	records Repository
	config  Config
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewMigrator(assets asset.Repository, tiers storage.Tiers, records Repository, config Config) *Migrator {
	return &Migrator{
		assets:   assets,
		tiers:    tiers,
		records:  records,
		config:   config.withDefaults(),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Migrate moves one asset from one tier to another. The returned error is
// non-nil exactly when the result's outcome is failed.
func (m *Migrator) Migrate(ctx context.Context, assetID string, from, to storage.Tier) (Result, error) {
	result := Result{AssetID: assetID, From: from, To: to}
	err := m.migrate(ctx, &result)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		log.Warn().
			Err(err).
			Str("asset_id", assetID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("[MIGRATE] Migration failed")
	} else {
		log.Info().
			Str("asset_id", assetID).
			Str("from", string(from)).
			Str("to", string(to)).
			Str("outcome", string(result.Outcome)).
			Int64("bytes", result.Bytes).
			Msg("[MIGRATE] Migration finished")
	}
	metrics.MigrationsTotal.WithLabelValues(string(from), string(to), string(result.Outcome)).Inc()
	return result, err
}

func (m *Migrator) migrate(ctx context.Context, result *Result) error {
	if result.From == result.To {
		return fmt.Errorf("%w: source and destination are both %s", mediaerr.ErrTierMismatch, result.From)
	}
	src, err := m.tiers.Backend(result.From)
	if err != nil {
		return err
	}
	dst, err := m.tiers.Backend(result.To)
	if err != nil {
		return err
	}

	a, err := m.assets.GetByID(ctx, result.AssetID)
	if err != nil {
		return err
	}
	if a.StorageTier == result.To {
		result.Outcome = OutcomeSkipped
		return nil
	}
	if a.StorageTier != result.From {
		return fmt.Errorf("%w: asset %s is on %s, not %s", mediaerr.ErrTierMismatch, a.ID, a.StorageTier, result.From)
	}

	record := &Record{
		ID:        uuid.New().String(),
		AssetID:   a.ID,
		FromTier:  result.From,
		ToTier:    result.To,
		Status:    StatusPending,
		StartedAt: m.now().UnixMilli(),
	}
	if err := m.records.Create(ctx, record); err != nil {
		return err
	}
	result.RecordID = record.ID
	m.track(record.ID)
	defer m.untrack(record.ID)

	outcome, copied, err := m.run(ctx, a, record, src, dst)
	result.Bytes = copied
	if err != nil {
		return err
	}
	result.Outcome = outcome
	return nil
}

func (m *Migrator) run(ctx context.Context, a *asset.Asset, record *Record, src, dst storage.Backend) (Outcome, int64, error) {
	key := a.StorageKey
	outcome := OutcomeSuccess
	var copied int64

	reconciled, err := m.destinationMatches(ctx, dst, a)
	if err != nil {
		return "", 0, m.finish(record, StatusFailed, err)
	}

	if reconciled {
		outcome = OutcomeSkipped
		log.Info().Str("asset_id", a.ID).Msg("[MIGRATE] Destination already holds a verified copy, reconciling pointer")
	} else {
		if err := m.advance(ctx, record, StatusCopying); err != nil {
			return "", 0, err
		}
		expected, err := m.copy(ctx, a, src, dst)
		if err != nil {
			return "", 0, m.finish(record, StatusFailed, err)
		}
		copied = expected.size

		if err := m.advance(ctx, record, StatusVerifying); err != nil {
			return "", copied, err
		}
		if err := m.verify(ctx, dst, key, expected); err != nil {
			m.discard(dst, key)
			return "", copied, m.finish(record, StatusVerifyFailed, err)
		}
	}

	// Past verification the remaining steps run to completion regardless of
	// the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	// The record reaches switched before the asset pointer moves.
	if err := m.advance(ctx, record, StatusSwitched); err != nil {
		return "", copied, err
	}
	if err := m.assets.SwitchTier(ctx, a.ID, record.FromTier, record.ToTier, key); err != nil {
		return "", copied, m.finish(record, StatusFailed, err)
	}
	if err := m.advance(ctx, record, StatusCleaning); err != nil {
		return "", copied, err
	}

	var cleanupErr string
	if err := src.Delete(ctx, key); err != nil && !errors.Is(err, mediaerr.ErrNotFound) {
		cleanupErr = "source cleanup: " + err.Error()
		log.Warn().Err(err).Str("asset_id", a.ID).Str("key", key).Msg("[MIGRATE] Failed to delete source copy")
	}
	if err := m.records.UpdateStatus(ctx, record.ID, StatusDone, cleanupErr, m.now().UnixMilli()); err != nil {
		return "", copied, err
	}
	return outcome, copied, nil
}

type digest struct {
	size int64
	sum  string
}

// copy streams the source object into the destination while hashing it. A
// source whose hash disagrees with the asset's recorded checksum is corrupt
// and its copy is removed again.
func (m *Migrator) copy(ctx context.Context, a *asset.Asset, src, dst storage.Backend) (digest, error) {
	info, err := src.Stat(ctx, a.StorageKey)
	if err != nil {
		return digest{}, sourceError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.copyTimeout(info.Size))
	defer cancel()

	reader, err := src.Get(ctx, a.StorageKey)
	if err != nil {
		return digest{}, sourceError(err)
	}
	defer reader.Close()

	h := sha256.New()
	counter := &countingReader{r: io.TeeReader(reader, h)}
	if err := dst.Store(ctx, a.StorageKey, counter, info.Size); err != nil {
		return digest{}, fmt.Errorf("%w: copy to destination: %w", mediaerr.ErrSourceUnavailable, err)
	}
	metrics.MigrationBytesTotal.Add(float64(counter.n))

	sum := hex.EncodeToString(h.Sum(nil))
	if a.Checksum != "" && sum != a.Checksum {
		m.discard(dst, a.StorageKey)
		return digest{}, fmt.Errorf("%w: source checksum %s does not match recorded %s", mediaerr.ErrSourceCorrupt, sum, a.Checksum)
	}
	return digest{size: counter.n, sum: sum}, nil
}

// verify re-reads the destination copy and compares it to what was read from
// the source.
func (m *Migrator) verify(ctx context.Context, dst storage.Backend, key string, expected digest) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.copyTimeout(expected.size))
	defer cancel()

	info, err := dst.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: stat destination: %w", mediaerr.ErrVerificationMismatch, err)
	}
	if info.Size != expected.size {
		return fmt.Errorf("%w: destination holds %d bytes, source had %d", mediaerr.ErrVerificationMismatch, info.Size, expected.size)
	}

	got, err := hashObject(ctx, dst, key)
	if err != nil {
		return fmt.Errorf("%w: read destination: %w", mediaerr.ErrVerificationMismatch, err)
	}
	if got.sum != expected.sum {
		return fmt.Errorf("%w: destination sha256 %s, source %s", mediaerr.ErrVerificationMismatch, got.sum, expected.sum)
	}
	return nil
}

// destinationMatches reports whether the destination already holds a copy
// identical to the asset's recorded size and checksum.
func (m *Migrator) destinationMatches(ctx context.Context, dst storage.Backend, a *asset.Asset) (bool, error) {
	if a.Checksum == "" {
		return false, nil
	}
	info, err := dst.Stat(ctx, a.StorageKey)
	if errors.Is(err, mediaerr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat destination: %w", mediaerr.ErrSourceUnavailable, err)
	}
	if a.SizeBytes > 0 && info.Size != a.SizeBytes {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.copyTimeout(info.Size))
	defer cancel()
	got, err := hashObject(ctx, dst, a.StorageKey)
	if err != nil {
		return false, fmt.Errorf("%w: read destination: %w", mediaerr.ErrSourceUnavailable, err)
	}
	return got.sum == a.Checksum, nil
}

func (m *Migrator) advance(ctx context.Context, record *Record, status Status) error {
	if err := m.records.UpdateStatus(ctx, record.ID, status, "", m.now().UnixMilli()); err != nil {
		return fmt.Errorf("record %s to %s: %w", record.ID, status, err)
	}
	record.Status = status
	return nil
}

// finish records a terminal failure and returns cause.
func (m *Migrator) finish(record *Record, status Status, cause error) error {
	ctx := context.Background()
	if err := m.records.UpdateStatus(ctx, record.ID, status, cause.Error(), m.now().UnixMilli()); err != nil {
		log.Error().Err(err).Str("record_id", record.ID).Msg("[MIGRATE] Failed to record migration failure")
	}
	record.Status = status
	return cause
}

func (m *Migrator) track(recordID string) {
	m.mu.Lock()
	m.inFlight[recordID] = struct{}{}
	m.mu.Unlock()
}

func (m *Migrator) untrack(recordID string) {
	m.mu.Lock()
	delete(m.inFlight, recordID)
	m.mu.Unlock()
}

// running reports whether this process is still working on the record.
func (m *Migrator) running(recordID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[recordID]
	return ok
}

func (m *Migrator) discard(dst storage.Backend, key string) {
	if err := dst.Delete(context.Background(), key); err != nil && !errors.Is(err, mediaerr.ErrNotFound) {
		log.Error().Err(err).Str("key", key).Msg("[MIGRATE] Failed to delete rejected destination copy")
	}
}

// MigrateBatch migrates every asset in req with at most BatchConcurrency
// running at once. A failing asset never stops the others.
func (m *Migrator) MigrateBatch(ctx context.Context, req BatchRequest) Summary {
	results := make([]Result, len(req.AssetIDs))

	var g errgroup.Group
	g.SetLimit(m.config.BatchConcurrency)
	for i, id := range req.AssetIDs {
		if err := ctx.Err(); err != nil {
			results[i] = Result{AssetID: id, From: req.From, To: req.To, Outcome: OutcomeFailed, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			results[i], _ = m.Migrate(ctx, id, req.From, req.To)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSuccess:
			summary.Success++
		case OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	log.Info().
		Int("success", summary.Success).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Str("from", string(req.From)).
		Str("to", string(req.To)).
		Msg("[MIGRATE] Batch completed")
	return summary
}

func hashObject(ctx context.Context, b storage.Backend, key string) (digest, error) {
	reader, err := b.Get(ctx, key)
	if err != nil {
		return digest{}, err
	}
	defer reader.Close()

	h := sha256.New()
	n, err := io.Copy(h, reader)
	if err != nil {
		return digest{}, err
	}
	return digest{size: n, sum: hex.EncodeToString(h.Sum(nil))}, nil
}

func sourceError(err error) error {
	if errors.Is(err, mediaerr.ErrNotFound) {
		return fmt.Errorf("%w: %w", mediaerr.ErrSourceUnavailable, err)
	}
	return fmt.Errorf("%w: read source: %w", mediaerr.ErrSourceUnavailable, err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
