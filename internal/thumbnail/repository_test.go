package thumbnail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingJob(id, assetID string, enqueuedAt, availableAt int64) *Job {
	return &Job{
		ID:          id,
		AssetID:     assetID,
		SourceKey:   "k-" + assetID,
		Status:      StatusPending,
		EnqueuedAt:  enqueuedAt,
		AvailableAt: availableAt,
	}
}

func TestRepository_ClaimNextHonorsAvailability(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			_, err := repo.Insert(ctx, pendingJob("j-late", "a1", 10, 500))
			require.NoError(t, err)
			_, err = repo.Insert(ctx, pendingJob("j-early", "a2", 20, 100))
			require.NoError(t, err)

			// when
			nothing, err := repo.ClaimNext(ctx, 50)
			require.NoError(t, err)
			first, err := repo.ClaimNext(ctx, 1000)
			require.NoError(t, err)
			second, err := repo.ClaimNext(ctx, 1000)
			require.NoError(t, err)
			empty, err := repo.ClaimNext(ctx, 1000)
			require.NoError(t, err)

			// then
			assert.Nil(t, nothing)
			require.NotNil(t, first)
			assert.Equal(t, "j-early", first.ID)
			assert.Equal(t, StatusRunning, first.Status)
			assert.Equal(t, 1, first.Attempts)
			require.NotNil(t, first.StartedAt)
			assert.Equal(t, int64(1000), *first.StartedAt)
			require.NotNil(t, second)
			assert.Equal(t, "j-late", second.ID)
			assert.Nil(t, empty)
		})
	}
}

func TestRepository_TransitionsRequireRunning(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			_, err := repo.Insert(ctx, pendingJob("j1", "a1", 1, 1))
			require.NoError(t, err)

			// when
			doneErr := repo.MarkDone(ctx, "j1", 5)
			retryErr := repo.Retry(ctx, "j1", "x", 5)
			failErr := repo.Fail(ctx, "j1", "x", 5)

			// then
			assert.ErrorIs(t, doneErr, ErrJobNotRunning)
			assert.ErrorIs(t, retryErr, ErrJobNotRunning)
			assert.ErrorIs(t, failErr, ErrJobNotRunning)
		})
	}
}

func TestRepository_RetryReturnsJobToPending(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			_, err := repo.Insert(ctx, pendingJob("j1", "a1", 1, 1))
			require.NoError(t, err)
			claimed, err := repo.ClaimNext(ctx, 2)
			require.NoError(t, err)

			// when
			require.NoError(t, repo.Retry(ctx, claimed.ID, "timeout", 99))
			job, err := repo.GetActiveByAsset(ctx, "a1")

			// then
			require.NoError(t, err)
			assert.Equal(t, StatusPending, job.Status)
			assert.Equal(t, "timeout", job.LastError)
			assert.Equal(t, int64(99), job.AvailableAt)
			assert.Equal(t, 1, job.Attempts)
		})
	}
}

func TestRepository_RequeueStale(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			ctx := context.Background()
			_, err := repo.Insert(ctx, pendingJob("old", "a1", 1, 1))
			require.NoError(t, err)
			_, err = repo.Insert(ctx, pendingJob("fresh", "a2", 2, 2))
			require.NoError(t, err)
			_, err = repo.ClaimNext(ctx, 10)
			require.NoError(t, err)
			_, err = repo.ClaimNext(ctx, 100)
			require.NoError(t, err)

			// when
			n, err := repo.RequeueStale(ctx, 50, 200)

			// then
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			counts, err := repo.CountByStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, counts[StatusPending])
			assert.Equal(t, 1, counts[StatusRunning])
		})
	}
}
