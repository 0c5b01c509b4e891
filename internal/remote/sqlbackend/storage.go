package sqlbackend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// objectPath resolves bucket/key under the media directory, refusing
// anything that would escape it.
func (b *Backend) objectPath(bucket, key string) (string, error) {
	if b.mediaDir == "" {
		return "", errors.New("storage: media directory not configured")
	}
	for _, part := range []string{bucket, key} {
		if part == "" || strings.Contains(part, "..") || strings.ContainsAny(part, `/\`+"\x00") {
			return "", fmt.Errorf("storage: invalid object name %q", part)
		}
	}
	return filepath.Join(b.mediaDir, bucket, key), nil
}

// Upload refuses to overwrite an existing object.
func (b *Backend) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("storage: %w", err)
	}
	return f.Close()
}

func (b *Backend) Remove(ctx context.Context, bucket string, keys ...string) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := b.objectPath(bucket, key)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: %w", err)
		}
	}
	return nil
}

func (b *Backend) PublicURL(bucket, key string) string {
	return b.mediaBase + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
}
