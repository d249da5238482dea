// Command tiermigrate moves assets between storage tiers in one batch and
// prints the summary as JSON.
//
//	tiermigrate -from standard -to cold -older-than 2160h -limit 500
//	tiermigrate -assets a1,a2 -from cold -to standard
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal"
	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/database"
	"github.com/prappser/prappser_media/internal/logging"
	"github.com/prappser/prappser_media/internal/migration"
	"github.com/prappser/prappser_media/internal/storage"
)

type options struct {
	From        storage.Tier
	To          storage.Tier
	AssetIDs    []string
	OlderThan   time.Duration
	Limit       int
	Concurrency int
	DryRun      bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	logging.Setup(config.Log)

	db, err := database.Open(config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
	defer db.Close()

	tiers, err := storage.NewTiers(&config.Storage.Standard, &config.Storage.Cold)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage tiers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrationConfig := config.Migration
	if opts.Concurrency > 0 {
		migrationConfig.BatchConcurrency = opts.Concurrency
	}
	assets := asset.NewSQLRepository(db)
	migrator := migration.NewMigrator(assets, tiers, migration.NewSQLRepository(db), migrationConfig)

	if err := run(ctx, opts, assets, migrator, time.Now(), os.Stdout); err != nil {
		log.Error().Err(err).Msg("[MIGRATE] Batch did not run")
		stop()
		db.Close()
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("tiermigrate", flag.ContinueOnError)
	from := fs.String("from", string(storage.TierStandard), "source tier")
	to := fs.String("to", string(storage.TierCold), "destination tier")
	ids := fs.String("assets", "", "comma-separated asset ids; when empty, candidates are selected by age")
	olderThan := fs.Duration("older-than", 90*24*time.Hour, "select assets created before now minus this duration")
	limit := fs.Int("limit", 500, "maximum number of assets selected by age")
	concurrency := fs.Int("concurrency", 0, "parallel migrations (default from config)")
	dryRun := fs.Bool("dry-run", false, "print the selected asset ids without migrating")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		AssetIDs:    splitIDs(*ids),
		OlderThan:   *olderThan,
		Limit:       *limit,
		Concurrency: *concurrency,
		DryRun:      *dryRun,
	}
	var err error
	if opts.From, err = storage.ParseTier(*from); err != nil {
		return options{}, err
	}
	if opts.To, err = storage.ParseTier(*to); err != nil {
		return options{}, err
	}
	if opts.From == opts.To {
		return options{}, fmt.Errorf("-from and -to are both %q", opts.From)
	}
	if len(opts.AssetIDs) == 0 && opts.Limit <= 0 {
		return options{}, errors.New("-limit must be positive")
	}
	return opts, nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

type batchMigrator interface {
	MigrateBatch(ctx context.Context, req migration.BatchRequest) migration.Summary
}

func run(ctx context.Context, opts options, assets asset.Repository, migrator batchMigrator, now time.Time, out io.Writer) error {
	ids := opts.AssetIDs
	if len(ids) == 0 {
		cutoff := now.Add(-opts.OlderThan).UnixMilli()
		candidates, err := assets.ListMigrationCandidates(ctx, opts.From, cutoff, opts.Limit)
		if err != nil {
			return fmt.Errorf("failed to list candidates: %w", err)
		}
		for _, a := range candidates {
			ids = append(ids, a.ID)
		}
	}
	log.Info().Int("assets", len(ids)).Str("from", string(opts.From)).Str("to", string(opts.To)).Bool("dry_run", opts.DryRun).Msg("[MIGRATE] Batch selected")

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if opts.DryRun {
		return enc.Encode(map[string]any{"dryRun": true, "assetIds": ids})
	}

	summary := migrator.MigrateBatch(ctx, migration.BatchRequest{AssetIDs: ids, From: opts.From, To: opts.To})
	return enc.Encode(summary)
}
