package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore is the read side of a bucket holding dataset files.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// Download copies key into dir, keeping the object's base name so the file
// extension still identifies the format. It returns the local path.
func Download(ctx context.Context, store ObjectStore, key, dir string) (string, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	body, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	target := filepath.Join(dir, path.Base(key))
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}
	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr != nil {
		return "", fmt.Errorf("download %q: %w", key, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close local copy: %w", closeErr)
	}
	if info.Size > 0 && written != info.Size {
		return "", fmt.Errorf("download %q: wrote %d of %d bytes", key, written, info.Size)
	}
	return target, nil
}
