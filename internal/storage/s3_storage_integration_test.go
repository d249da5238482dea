//go:build integration

package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prappser/prappser_media/internal/mediaerr"
)

func getTestS3(t *testing.T) *S3Storage {
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	s, err := NewS3Storage(&BackendConfig{
		Type:        StorageTypeS3,
		S3Endpoint:  endpoint,
		S3Bucket:    "media-cold-test",
		S3AccessKey: "minioadmin",
		S3SecretKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("Failed to connect to S3: %v", err)
	}
	return s
}

func TestS3Storage_RoundTrip_Integration(t *testing.T) {
	s := getTestS3(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte("cold"), 1024)

	require.NoError(t, s.Store(ctx, testKey, bytes.NewReader(data), int64(len(data))))

	info, err := s.Stat(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)

	rc, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, testKey))
	_, err = s.Stat(ctx, testKey)
	assert.ErrorIs(t, err, mediaerr.ErrNotFound)
}
