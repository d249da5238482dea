package thumbnail

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prappser/prappser_media/internal/database"
	"github.com/prappser/prappser_media/internal/mediaerr"
)

func newSQLRepo(t *testing.T) *SQLRepository {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite3, DSN: filepath.Join(t.TempDir(), "media.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLRepository(db, database.DriverSQLite3)
}

func repositories(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"sql":    newSQLRepo(t),
		"memory": NewMemoryRepository(),
	}
}

func testConfig() Config {
	c := DefaultConfig()
	c.PollInterval = 10 * time.Millisecond
	c.RetryBaseDelay = time.Second
	c.RetryMaxDelay = time.Minute
	c.MaxAttempts = 3
	return c
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recordingNotifier) JobUpdated(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, job.Status)
}

func (r *recordingNotifier) seen() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func TestQueue_EnqueueTwiceYieldsOneJob(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			q := NewQueue(repo, testConfig())

			// when
			first, created1, err1 := q.Enqueue(ctx, "a1", "k")
			second, created2, err2 := q.Enqueue(ctx, "a1", "k")

			// then
			require.NoError(t, err1)
			require.NoError(t, err2)
			assert.True(t, created1)
			assert.False(t, created2)
			assert.Equal(t, first.ID, second.ID)
			counts, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, counts[StatusPending])
		})
	}
}

func TestQueue_ConcurrentEnqueueYieldsOneJob(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			q := NewQueue(repo, testConfig())
			var created atomic.Int32
			var wg sync.WaitGroup
			ids := make(chan string, 20)

			// when
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					job, ok, err := q.Enqueue(ctx, "a1", "k")
					if err != nil {
						t.Error(err)
						return
					}
					if ok {
						created.Add(1)
					}
					ids <- job.ID
				}()
			}
			wg.Wait()
			close(ids)

			// then
			assert.Equal(t, int32(1), created.Load())
			unique := map[string]bool{}
			for id := range ids {
				unique[id] = true
			}
			assert.Len(t, unique, 1)
			counts, _ := q.Depth(ctx)
			assert.Equal(t, 1, counts[StatusPending])
		})
	}
}

func TestQueue_EnqueueAfterCompletionCreatesNewJob(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			q := NewQueue(repo, testConfig())
			first, _, err := q.Enqueue(ctx, "a1", "k")
			require.NoError(t, err)
			claimed, err := repo.ClaimNext(ctx, time.Now().UnixMilli())
			require.NoError(t, err)
			require.NoError(t, repo.MarkDone(ctx, claimed.ID, time.Now().UnixMilli()))

			// when
			second, created, err := q.Enqueue(ctx, "a1", "k")

			// then
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEqual(t, first.ID, second.ID)
		})
	}
}

func TestQueue_FailsFastWhenFull(t *testing.T) {
	// given
	ctx := context.Background()
	config := testConfig()
	config.MaxQueueDepth = 2
	q := NewQueue(NewMemoryRepository(), config)
	_, _, err := q.Enqueue(ctx, "a1", "k1")
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, "a2", "k2")
	require.NoError(t, err)

	// when
	_, _, fullErr := q.Enqueue(ctx, "a3", "k3")
	existing, created, dupErr := q.Enqueue(ctx, "a1", "k1")

	// then
	assert.ErrorIs(t, fullErr, mediaerr.ErrQueueFull)
	assert.NoError(t, dupErr)
	assert.False(t, created)
	assert.Equal(t, "a1", existing.AssetID)
}

func TestQueue_UnboundedWhenDepthIsZero(t *testing.T) {
	// given
	ctx := context.Background()
	config := testConfig()
	config.MaxQueueDepth = 0
	q := NewQueue(NewMemoryRepository(), config)

	// when
	for i := 0; i < 50; i++ {
		_, _, err := q.Enqueue(ctx, fmt.Sprintf("a%d", i), "k")

		// then
		require.NoError(t, err)
	}
}

func TestQueue_StatusPrefersActiveThenLatest(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			q := NewQueue(repo, testConfig())

			// when
			_, missingErr := q.Status(ctx, "a1")
			job, _, err := q.Enqueue(ctx, "a1", "k")
			require.NoError(t, err)
			pending, err := q.Status(ctx, "a1")
			require.NoError(t, err)
			claimed, err := repo.ClaimNext(ctx, time.Now().UnixMilli())
			require.NoError(t, err)
			require.NoError(t, repo.Fail(ctx, claimed.ID, "boom", time.Now().UnixMilli()))
			failed, err := q.Status(ctx, "a1")
			require.NoError(t, err)

			// then
			assert.ErrorIs(t, missingErr, ErrJobNotFound)
			assert.Equal(t, job.ID, pending.ID)
			assert.Equal(t, StatusPending, pending.Status)
			assert.Equal(t, StatusFailed, failed.Status)
			assert.Equal(t, "boom", failed.LastError)
			assert.Equal(t, 1, failed.Attempts)
		})
	}
}

func TestQueue_EnqueueWakesAndNotifies(t *testing.T) {
	// given
	ctx := context.Background()
	q := NewQueue(NewMemoryRepository(), testConfig())
	notifier := &recordingNotifier{}
	q.AddNotifier(notifier)

	// when
	_, _, err := q.Enqueue(ctx, "a1", "k")

	// then
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusPending}, notifier.seen())
	select {
	case <-q.wake:
	default:
		t.Fatal("expected a wake signal")
	}
}
