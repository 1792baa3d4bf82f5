/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/config"
	"github.com/signcast/signcast/internal/engine"
	"github.com/signcast/signcast/internal/models"
)

// ErrNotFound is returned when a media list or item does not exist.
var ErrNotFound = errors.New("media: not found")

// ItemInput describes one entry of a media list on create or update.
type ItemInput struct {
	Title       string        `json:"title"`
	ContentType string        `json:"contentType"`
	URI         string        `json:"uri"`
	Duration    time.Duration `json:"duration"`
}

// Service manages media lists, items and the asset storage backend.
type Service struct {
	db      *gorm.DB
	storage Storage
	logger  zerolog.Logger
}

// NewService creates a media service using filesystem or S3 storage based
// on configuration.
func NewService(db *gorm.DB, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	var storage Storage

	if cfg.S3Bucket != "" {
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, some operations may fail")
		}
		s3Storage, err := NewS3Storage(context.Background(), cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.MediaRoot, logger)
	}

	return &Service{
		db:      db,
		storage: storage,
		logger:  logger.With().Str("component", "media").Logger(),
	}, nil
}

// CreateList creates a media list with its ordered items.
func (s *Service) CreateList(ctx context.Context, organizationID, name string, loop bool, items []ItemInput) (*models.MediaList, error) {
	if name == "" {
		return nil, fmt.Errorf("media list name is required")
	}

	list := &models.MediaList{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Name:           name,
		Loop:           loop,
	}
	for i, in := range items {
		list.Items = append(list.Items, models.MediaItem{
			ID:          uuid.NewString(),
			MediaListID: list.ID,
			Position:    i,
			Title:       in.Title,
			ContentType: in.ContentType,
			URI:         in.URI,
			Duration:    in.Duration,
		})
	}

	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return nil, fmt.Errorf("create media list: %w", err)
	}

	s.logger.Info().Str("media_list_id", list.ID).Str("name", name).Int("items", len(list.Items)).Msg("media list created")
	return list, nil
}

// FindList loads a media list with its items ordered by position.
func (s *Service) FindList(ctx context.Context, id string) (*models.MediaList, error) {
	var list models.MediaList
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&list, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find media list: %w", err)
	}
	return &list, nil
}

// ListLists returns media lists for an organization.
func (s *Service) ListLists(ctx context.Context, organizationID string, limit, offset int) ([]models.MediaList, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var lists []models.MediaList
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	if err := q.Find(&lists).Error; err != nil {
		return nil, fmt.Errorf("list media lists: %w", err)
	}
	return lists, nil
}

// UpdateList replaces the name, loop flag and item sequence of a list.
func (s *Service) UpdateList(ctx context.Context, id, name string, loop bool, items []ItemInput) (*models.MediaList, error) {
	list, err := s.FindList(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_list_id = ?", id).Delete(&models.MediaItem{}).Error; err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		list.Name = name
		list.Loop = loop
		list.Items = nil
		for i, in := range items {
			list.Items = append(list.Items, models.MediaItem{
				ID:          uuid.NewString(),
				MediaListID: id,
				Position:    i,
				Title:       in.Title,
				ContentType: in.ContentType,
				URI:         in.URI,
				Duration:    in.Duration,
			})
		}
		return tx.Save(list).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update media list: %w", err)
	}

	return list, nil
}

// DeleteList removes a media list, its items and any stored assets.
func (s *Service) DeleteList(ctx context.Context, id string) error {
	list, err := s.FindList(ctx, id)
	if err != nil {
		return err
	}

	for _, item := range list.Items {
		if item.StorageKey == "" {
			continue
		}
		if err := s.storage.Delete(ctx, item.StorageKey); err != nil {
			s.logger.Warn().Err(err).Str("key", item.StorageKey).Msg("asset delete failed")
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_list_id = ?", id).Delete(&models.MediaItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.MediaList{}, "id = ?", id).Error
	})
}

// StoreAsset uploads an asset for a media item and records its key and URL.
func (s *Service) StoreAsset(ctx context.Context, itemID, filename string, file io.Reader) (*models.MediaItem, error) {
	var item models.MediaItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find media item: %w", err)
	}

	var list models.MediaList
	if err := s.db.WithContext(ctx).First(&list, "id = ?", item.MediaListID).Error; err != nil {
		return nil, fmt.Errorf("find media list: %w", err)
	}

	key, err := s.storage.Store(ctx, list.OrganizationID, item.ID, filename, file)
	if err != nil {
		return nil, fmt.Errorf("store asset: %w", err)
	}

	item.StorageKey = key
	item.URI = s.storage.URL(key)
	if err := s.db.WithContext(ctx).Save(&item).Error; err != nil {
		return nil, fmt.Errorf("save media item: %w", err)
	}

	s.logger.Info().Str("media_item_id", item.ID).Str("key", key).Msg("asset stored")
	return &item, nil
}

// PlaylistForEngine projects a media list into the snapshot an engine plays.
func (s *Service) PlaylistForEngine(ctx context.Context, mediaListID string) (engine.Playlist, error) {
	list, err := s.FindList(ctx, mediaListID)
	if err != nil {
		return engine.Playlist{}, err
	}

	pl := engine.Playlist{
		MediaListID: list.ID,
		Loop:        list.Loop,
	}
	for _, item := range list.Items {
		pl.Items = append(pl.Items, engine.Item{
			MediaItemID: item.ID,
			Title:       item.Title,
			Duration:    item.Duration,
		})
	}
	return pl, nil
}
