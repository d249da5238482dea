package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/migration"
	"github.com/prappser/prappser_media/internal/storage"
)

type recordingMigrator struct {
	requests []migration.BatchRequest
}

func (m *recordingMigrator) MigrateBatch(ctx context.Context, req migration.BatchRequest) migration.Summary {
	m.requests = append(m.requests, req)
	return migration.Summary{Success: len(req.AssetIDs)}
}

func seed(t *testing.T, now time.Time) *asset.MemoryRepository {
	t.Helper()
	repo := asset.NewMemoryRepository()
	for id, age := range map[string]time.Duration{"old1": 100 * 24 * time.Hour, "old2": 95 * 24 * time.Hour, "new": time.Hour} {
		require.NoError(t, repo.Create(context.Background(), &asset.Asset{
			ID:          id,
			TenantID:    "t1",
			ProjectID:   "p1",
			Kind:        asset.KindVideo,
			StorageKey:  "tenants/t1/projects/p1/" + id + "/source.mp4",
			StorageTier: storage.TierStandard,
			CreatedAt:   now.Add(-age).UnixMilli(),
		}))
	}
	return repo
}

func TestParseFlags(t *testing.T) {
	// when
	opts, err := parseFlags([]string{"-from", "cold", "-to", "standard", "-assets", " a1, ,a2 ", "-concurrency", "8"})

	// then
	require.NoError(t, err)
	assert.Equal(t, storage.TierCold, opts.From)
	assert.Equal(t, storage.TierStandard, opts.To)
	assert.Equal(t, []string{"a1", "a2"}, opts.AssetIDs)
	assert.Equal(t, 8, opts.Concurrency)
}

func TestParseFlags_Rejects(t *testing.T) {
	cases := map[string][]string{
		"unknown tier": {"-to", "glacier"},
		"same tier":    {"-from", "cold", "-to", "cold"},
		"zero limit":   {"-limit", "0"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			// when
			_, err := parseFlags(args)

			// then
			assert.Error(t, err)
		})
	}
}

func TestRun_SelectsByAge(t *testing.T) {
	// given
	now := time.Now()
	assets := seed(t, now)
	migrator := &recordingMigrator{}
	var out bytes.Buffer
	opts := options{From: storage.TierStandard, To: storage.TierCold, OlderThan: 90 * 24 * time.Hour, Limit: 10}

	// when
	err := run(context.Background(), opts, assets, migrator, now, &out)

	// then
	require.NoError(t, err)
	require.Len(t, migrator.requests, 1)
	assert.Equal(t, []string{"old1", "old2"}, migrator.requests[0].AssetIDs)
	assert.Equal(t, storage.TierCold, migrator.requests[0].To)
	var summary migration.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 2, summary.Success)
}

func TestRun_DryRunDoesNotMigrate(t *testing.T) {
	// given
	now := time.Now()
	assets := seed(t, now)
	migrator := &recordingMigrator{}
	var out bytes.Buffer
	opts := options{From: storage.TierStandard, To: storage.TierCold, OlderThan: 90 * 24 * time.Hour, Limit: 1, DryRun: true}

	// when
	err := run(context.Background(), opts, assets, migrator, now, &out)

	// then
	require.NoError(t, err)
	assert.Empty(t, migrator.requests)
	assert.Contains(t, out.String(), `"old1"`)
	assert.NotContains(t, out.String(), `"old2"`)
}

func TestRun_ExplicitIDsSkipSelection(t *testing.T) {
	// given
	migrator := &recordingMigrator{}
	opts := options{From: storage.TierCold, To: storage.TierStandard, AssetIDs: []string{"x1"}}

	// when
	err := run(context.Background(), opts, asset.NewMemoryRepository(), migrator, time.Now(), &bytes.Buffer{})

	// then
	require.NoError(t, err)
	require.Len(t, migrator.requests, 1)
	assert.Equal(t, []string{"x1"}, migrator.requests[0].AssetIDs)
}
