package migration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal/storage"
)

// Scheduler periodically moves standard-tier assets older than ColdAfter to
// the cold tier.
type Scheduler struct {
	migrator *Migrator
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(migrator *Migrator) *Scheduler {
	return &Scheduler{
		migrator: migrator,
		done:     make(chan struct{}),
	}
}

// Start runs a pass every Interval until Stop is called.
func (s *Scheduler) Start() {
	interval := s.migrator.config.Interval
	s.ticker = time.NewTicker(interval)
	log.Info().
		Dur("interval", interval).
		Dur("coldAfter", s.migrator.config.ColdAfter).
		Msg("[MIGRATE] Tier migration scheduler started")

	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.done:
			s.ticker.Stop()
			return
		}
	}
}

// Stop waits for an in-progress pass to finish.
func (s *Scheduler) Stop() {
	log.Info().Msg("[MIGRATE] Stopping tier migration scheduler")
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// RunNow executes one pass immediately.
func (s *Scheduler) RunNow(ctx context.Context) Summary {
	m := s.migrator
	now := m.now()

	if released := m.releaseStale(ctx, now); released > 0 {
		log.Warn().Int("count", released).Msg("[MIGRATE] Released stale migration records")
	}

	cutoff := now.Add(-m.config.ColdAfter).UnixMilli()
	candidates, err := m.assets.ListMigrationCandidates(ctx, storage.TierStandard, cutoff, m.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("[MIGRATE] Failed to list migration candidates")
		return Summary{}
	}
	if len(candidates) == 0 {
		log.Debug().Msg("[MIGRATE] No assets due for cold storage")
		return Summary{}
	}

	ids := make([]string, len(candidates))
	for i, a := range candidates {
		ids[i] = a.ID
	}
	return m.MigrateBatch(ctx, BatchRequest{AssetIDs: ids, From: storage.TierStandard, To: storage.TierCold})
}

// releaseStale fails active records left behind by a crashed process so their
// assets can migrate again. A record is stale once it has been active longer
// than its asset's size allows; records this process is still running are
// never released.
func (m *Migrator) releaseStale(ctx context.Context, now time.Time) int {
	records, err := m.records.ListActiveStartedBefore(ctx, now.Add(-m.config.StaleAfter).UnixMilli())
	if err != nil {
		log.Error().Err(err).Msg("[MIGRATE] Failed to list active migration records")
		return 0
	}

	released := 0
	for _, record := range records {
		if m.running(record.ID) {
			continue
		}
		var size int64
		if a, err := m.assets.GetByID(ctx, record.AssetID); err == nil {
			size = a.SizeBytes
		}
		age := now.Sub(time.UnixMilli(record.StartedAt))
		if age < m.config.staleAfter(size) {
			continue
		}
		err := m.records.UpdateStatus(ctx, record.ID, StatusFailed, "abandoned", now.UnixMilli())
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("record_id", record.ID).Msg("[MIGRATE] Failed to release stale migration record")
			continue
		}
		log.Warn().
			Str("record_id", record.ID).
			Str("asset_id", record.AssetID).
			Str("status", string(record.Status)).
			Dur("age", age).
			Msg("[MIGRATE] Abandoned stale migration record")
		released++
	}
	return released
}
