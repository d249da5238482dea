package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/mediaerr"
	"github.com/prappser/prappser_media/internal/storage"
)

const (
	sourceKey = "tenants/t1/projects/p1/a1/source.mp4"
	thumbKey  = "tenants/t1/projects/p1/a1/thumbnail.jpg"
)

type fakeExtractor struct {
	err   error
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, kind asset.Kind, src io.Reader) (image.Image, error) {
	f.calls.Add(1)
	if _, err := io.Copy(io.Discard, src); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return imaging.New(640, 480, color.NRGBA{R: 200, A: 255}), nil
}

type fixture struct {
	queue  *Queue
	pool   *Pool
	repo   Repository
	assets *asset.MemoryRepository
	std    *storage.MemoryStorage
	cold   *storage.MemoryStorage
	clock  time.Time
}

func newFixture(t *testing.T, repo Repository, extractor Extractor, kind asset.Kind, source []byte) *fixture {
	t.Helper()
	f := &fixture{
		repo:   repo,
		assets: asset.NewMemoryRepository(),
		std:    storage.NewMemoryStorage(),
		cold:   storage.NewMemoryStorage(),
		clock:  time.UnixMilli(1_700_000_000_000),
	}
	f.queue = NewQueue(repo, testConfig())
	f.queue.now = func() time.Time { return f.clock }
	tiers := storage.Tiers{storage.TierStandard: f.std, storage.TierCold: f.cold}
	f.pool = NewPool(f.queue, f.assets, tiers, extractor)

	require.NoError(t, f.assets.Create(context.Background(), &asset.Asset{
		ID:          "a1",
		TenantID:    "t1",
		ProjectID:   "p1",
		Kind:        kind,
		StorageKey:  sourceKey,
		StorageTier: storage.TierStandard,
		SizeBytes:   int64(len(source)),
	}))
	if source != nil {
		f.std.Put(sourceKey, source)
	}
	return f
}

func TestPool_GeneratesThumbnail(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			f := newFixture(t, repo, &fakeExtractor{}, asset.KindVideo, []byte("video"))
			notifier := &recordingNotifier{}
			f.queue.AddNotifier(notifier)
			_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
			require.NoError(t, err)

			// when
			processed, err := f.pool.RunOnce(ctx)

			// then
			require.NoError(t, err)
			assert.True(t, processed)

			job, err := f.queue.Status(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, StatusDone, job.Status)
			assert.NotNil(t, job.CompletedAt)

			a, _ := f.assets.GetByID(ctx, "a1")
			assert.Equal(t, thumbKey, a.DerivedThumbnailKey)

			data, ok := f.std.Bytes(thumbKey)
			require.True(t, ok)
			img, err := imaging.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 320, img.Bounds().Dx())
			assert.Equal(t, 180, img.Bounds().Dy())

			assert.Equal(t, []Status{StatusPending, StatusRunning, StatusDone}, notifier.seen())
		})
	}
}

func TestPool_CorruptSourceFailsWithoutThumbnail(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			f := newFixture(t, repo, NewMediaExtractor(testConfig()), asset.KindImage, []byte("definitely not an image"))
			_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
			require.NoError(t, err)

			// when
			processed, err := f.pool.RunOnce(ctx)
			require.NoError(t, err)
			again, err := f.pool.RunOnce(ctx)
			require.NoError(t, err)

			// then
			assert.True(t, processed)
			assert.False(t, again, "corrupt sources are not retried")

			job, err := f.queue.Status(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, job.Status)
			assert.Equal(t, 1, job.Attempts)
			assert.Contains(t, job.LastError, mediaerr.ErrSourceCorrupt.Error())

			a, _ := f.assets.GetByID(ctx, "a1")
			assert.Empty(t, a.DerivedThumbnailKey)
			_, exists := f.std.Bytes(thumbKey)
			assert.False(t, exists)
		})
	}
}

func TestPool_RetriesUnavailableSourceWithBackoffThenFails(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			extractor := &fakeExtractor{err: fmt.Errorf("%w: network blip", mediaerr.ErrSourceUnavailable)}
			f := newFixture(t, repo, extractor, asset.KindVideo, []byte("video"))
			_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
			require.NoError(t, err)

			// when
			first, err := f.pool.RunOnce(ctx)
			require.NoError(t, err)
			afterFirst, err := f.queue.Status(ctx, "a1")
			require.NoError(t, err)
			tooEarly, err := f.pool.RunOnce(ctx)
			require.NoError(t, err)

			f.clock = f.clock.Add(time.Hour)
			second, err := f.pool.RunOnce(ctx)
			require.NoError(t, err)
			f.clock = f.clock.Add(time.Hour)
			third, err := f.pool.RunOnce(ctx)
			require.NoError(t, err)

			// then
			assert.True(t, first)
			assert.Equal(t, StatusPending, afterFirst.Status)
			assert.Equal(t, f.clock.Add(-2*time.Hour).Add(time.Second).UnixMilli(), afterFirst.AvailableAt)
			assert.False(t, tooEarly, "job must wait for its backoff")
			assert.True(t, second)
			assert.True(t, third)

			job, err := f.queue.Status(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, job.Status)
			assert.Equal(t, 3, job.Attempts)
			assert.Equal(t, int32(3), extractor.calls.Load())
		})
	}
}

func TestPool_MissingSourceIsRetried(t *testing.T) {
	// given
	ctx := context.Background()
	f := newFixture(t, NewMemoryRepository(), &fakeExtractor{}, asset.KindVideo, nil)
	_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
	require.NoError(t, err)

	// when
	_, err = f.pool.RunOnce(ctx)

	// then
	require.NoError(t, err)
	job, _ := f.queue.Status(ctx, "a1")
	assert.Equal(t, StatusPending, job.Status)
	assert.Contains(t, job.LastError, mediaerr.ErrSourceUnavailable.Error())
}

func TestPool_ReadsSourceFromCurrentTier(t *testing.T) {
	// given
	ctx := context.Background()
	f := newFixture(t, NewMemoryRepository(), &fakeExtractor{}, asset.KindVideo, nil)
	f.cold.Put(sourceKey, []byte("archived video"))
	require.NoError(t, f.assets.SwitchTier(ctx, "a1", storage.TierStandard, storage.TierCold, sourceKey))
	_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
	require.NoError(t, err)

	// when
	_, err = f.pool.RunOnce(ctx)

	// then
	require.NoError(t, err)
	job, _ := f.queue.Status(ctx, "a1")
	assert.Equal(t, StatusDone, job.Status)
	_, ok := f.std.Bytes(thumbKey)
	assert.True(t, ok, "thumbnails are always written to the standard tier")
}

func TestPool_UnknownAssetFailsImmediately(t *testing.T) {
	// given
	ctx := context.Background()
	f := newFixture(t, NewMemoryRepository(), &fakeExtractor{}, asset.KindVideo, []byte("video"))
	_, _, err := f.queue.Enqueue(ctx, "ghost", "k")
	require.NoError(t, err)

	// when
	_, err = f.pool.RunOnce(ctx)

	// then
	require.NoError(t, err)
	job, _ := f.queue.Status(ctx, "ghost")
	assert.Equal(t, StatusFailed, job.Status)
}

func TestPool_StartProcessesUntilCancelled(t *testing.T) {
	// given
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, NewMemoryRepository(), &fakeExtractor{}, asset.KindVideo, []byte("video"))
	f.queue.now = time.Now
	f.pool.Start(ctx)

	// when
	_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
	require.NoError(t, err)

	// then
	require.Eventually(t, func() bool {
		job, err := f.queue.Status(context.Background(), "a1")
		return err == nil && job.Status == StatusDone
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		f.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}

func TestPool_StartRequeuesStaleRunningJobs(t *testing.T) {
	// given
	ctx := context.Background()
	repo := NewMemoryRepository()
	f := newFixture(t, repo, &fakeExtractor{}, asset.KindVideo, []byte("video"))
	_, _, err := f.queue.Enqueue(ctx, "a1", sourceKey)
	require.NoError(t, err)
	_, err = repo.ClaimNext(ctx, f.clock.UnixMilli())
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Hour)

	// when
	f.pool.recoverStale(ctx)

	// then
	job, _ := f.queue.Status(ctx, "a1")
	assert.Equal(t, StatusPending, job.Status)
}

func TestConfig_Backoff(t *testing.T) {
	c := Config{RetryBaseDelay: time.Second, RetryMaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, 10*time.Second, c.backoff(5))
	assert.Equal(t, 10*time.Second, c.backoff(50))
}
