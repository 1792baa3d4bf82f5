/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Storage abstracts where uploaded signage assets live.
type Storage interface {
	// Store persists the asset and returns the storage key.
	Store(ctx context.Context, organizationID, itemID, filename string, file io.Reader) (string, error)
	// Delete removes the asset. Missing assets are not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the address device agents fetch the asset from.
	URL(key string) string
}

// FilesystemStorage implements Storage using the local filesystem.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "fs_storage").Logger(),
	}
}

// Store saves an asset under <root>/<org>/<item><ext>.
func (fs *FilesystemStorage) Store(ctx context.Context, organizationID, itemID, filename string, file io.Reader) (string, error) {
	key := buildAssetKey(organizationID, itemID, filename)
	fullPath := filepath.Join(fs.rootDir, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("write file: %w", err)
	}

	fs.logger.Debug().Str("key", key).Msg("asset stored")
	return key, nil
}

// Delete removes an asset from the filesystem.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(fs.rootDir, key)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// URL returns a path relative to the media root; the HTTP layer serves it.
func (fs *FilesystemStorage) URL(key string) string {
	return "/media/" + key
}

func buildAssetKey(organizationID, itemID, filename string) string {
	ext := filepath.Ext(filename)
	return filepath.Join(organizationID, itemID+ext)
}
