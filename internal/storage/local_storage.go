package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prappser/prappser_media/internal/assetkey"
	"github.com/prappser/prappser_media/internal/mediaerr"
)

// LocalStorage keeps objects as files below a root directory. Every key is
// resolved through assetkey.Resolve, so nothing outside the root is reachable.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(config *BackendConfig) (*LocalStorage, error) {
	basePath := config.LocalPath
	if basePath == "" {
		basePath = "./storage"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: basePath}, nil
}

func (s *LocalStorage) Root() string {
	return s.basePath
}

// Store writes to a temporary file next to the target and renames it into
// place, so readers never observe a partial object.
func (s *LocalStorage) Store(ctx context.Context, key string, reader io.Reader, size int64) error {
	fullPath, err := assetkey.Resolve(s.basePath, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, contextReader{ctx: ctx, r: reader})
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write for %s: wrote %d of %d bytes", key, written, size)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, fullPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := assetkey.Resolve(s.basePath, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", mediaerr.ErrNotFound, key)
		}
		return nil, err
	}

	return file, nil
}

func (s *LocalStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	fullPath, err := assetkey.Resolve(s.basePath, key)
	if err != nil {
		return ObjectInfo{}, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", mediaerr.ErrNotFound, key)
		}
		return ObjectInfo{}, err
	}
	if !info.Mode().IsRegular() {
		return ObjectInfo{}, fmt.Errorf("%w: %s", mediaerr.ErrNotAFile, key)
	}

	return ObjectInfo{Key: key, Size: info.Size()}, nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := assetkey.Resolve(s.basePath, key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, mediaerr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
