package sqlite

import (
	"clipd/internal/storage"
	"clipd/pkg/types"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

// SQLiteStore implements storage.Store on a single SQLite database.
//
// Mutations are serialized behind writeMu so that concurrent writers can
// never interleave inside a delete cascade. Reads go straight to gorm.
type SQLiteStore struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	writeMu sync.Mutex
}

var _ storage.Store = (*SQLiteStore)(nil)

// New opens (creating if necessary) the database and migrates the schema.
func New(config storage.Config, log *zap.SugaredLogger) (*SQLiteStore, error) {
	dsn := config.DBPath + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&storage.ItemModel{},
		&storage.TagModel{},
		&storage.ItemTagModel{},
		&storage.PastedModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withWrite runs fn holding the write mutex, retrying on transient SQLite
// contention with linear backoff. Contention is never surfaced to callers.
func (s *SQLiteStore) withWrite(fn func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = s.db.Transaction(fn)
		if err == nil || !isBusy(err) {
			return err
		}
		s.log.Warnw("database busy, retrying", "attempt", attempt+1, "error", err)
		time.Sleep(busyBackoff * time.Duration(attempt+1))
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}

// AddItem stores a new item and returns its id. Duplicates are not
// rejected here; dedup policy belongs to the caller via HashExists.
func (s *SQLiteStore) AddItem(ctx context.Context, itemType string, payload []byte, opts storage.AddOptions) (int64, error) {
	if len(payload) > storage.MaxPayloadSize {
		return 0, storage.ErrPayloadTooLarge
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	model := &storage.ItemModel{
		Timestamp:  ts,
		Type:       itemType,
		Payload:    payload,
		Thumbnail:  opts.Thumbnail,
		Hash:       storage.HashPayload(payload),
		Name:       opts.Name,
		IsFavorite: opts.IsFavorite,
		IsSecret:   opts.IsSecret,
	}

	err := s.withWrite(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Create(model).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create item: %w", err)
	}
	return model.ID, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*types.ClipboardItem, error) {
	var model storage.ItemModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return model.ToItem(), nil
}

// GetItemsSince returns all items with an id strictly greater than id,
// in ascending id order. Used by the change watcher.
func (s *SQLiteStore) GetItemsSince(ctx context.Context, id int64) ([]*types.ClipboardItem, error) {
	var models []storage.ItemModel
	err := s.db.WithContext(ctx).
		Where("id > ?", id).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items since %d: %w", id, err)
	}
	return toItems(models), nil
}

// DeleteItem removes the item and, in the same transaction, every
// item_tags and pasted_items row that references it.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id int64) (bool, error) {
	existed := false
	err := s.withWrite(func(tx *gorm.DB) error {
		var err error
		existed, err = deleteItemCascade(tx.WithContext(ctx), id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete item %d: %w", id, err)
	}
	return existed, nil
}

// deleteItemCascade deletes one item plus its dependent rows inside the
// caller's transaction. This is the only way an item row is ever removed.
func deleteItemCascade(tx *gorm.DB, id int64) (bool, error) {
	res := tx.Delete(&storage.ItemModel{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, deleteItemRefs(tx, id)
}

// evictItemCascade is the eviction variant: the delete is conditioned on
// the item still being a non-favorite, so a victim favorited between
// candidate selection and its own transaction survives the pass.
func evictItemCascade(tx *gorm.DB, id int64) (bool, error) {
	res := tx.Where("id = ? AND is_favorite = ?", id, false).
		Delete(&storage.ItemModel{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, deleteItemRefs(tx, id)
}

func deleteItemRefs(tx *gorm.DB, id int64) error {
	if err := tx.Where("item_id = ?", id).Delete(&storage.ItemTagModel{}).Error; err != nil {
		return err
	}
	return tx.Where("item_id = ?", id).Delete(&storage.PastedModel{}).Error
}

// CleanupOldItems evicts the oldest non-favorite items until at most
// maxItems non-favorites remain. Favorites are never counted or evicted.
// Each eviction is its own cascade transaction so the write lock is never
// held across the whole pass.
func (s *SQLiteStore) CleanupOldItems(ctx context.Context, maxItems int) ([]int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Where("is_favorite = ?", false).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	if count <= int64(maxItems) {
		return nil, nil
	}

	victims, err := s.oldestNonFavoriteIDs(ctx, int(count)-maxItems)
	if err != nil {
		return nil, err
	}

	deleted := make([]int64, 0, len(victims))
	for _, id := range victims {
		id := id
		evicted := false
		err := s.withWrite(func(tx *gorm.DB) error {
			var err error
			evicted, err = evictItemCascade(tx.WithContext(ctx), id)
			return err
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to evict item %d: %w", id, err)
		}
		if evicted {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// BulkDeleteOldest removes the n oldest non-favorite items regardless of
// any configured limit. n <= 0 deletes nothing.
func (s *SQLiteStore) BulkDeleteOldest(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	victims, err := s.oldestNonFavoriteIDs(ctx, n)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, id := range victims {
		id := id
		evicted := false
		err := s.withWrite(func(tx *gorm.DB) error {
			var err error
			evicted, err = evictItemCascade(tx.WithContext(ctx), id)
			return err
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete item %d: %w", id, err)
		}
		if evicted {
			deleted++
		}
	}
	return deleted, nil
}

func (s *SQLiteStore) oldestNonFavoriteIDs(ctx context.Context, n int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Where("is_favorite = ?", false).
		Order("timestamp ASC, id ASC").
		Limit(n).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select eviction candidates: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) HashExists(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Where("hash = ?", hash).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check hash: %w", err)
	}
	return count > 0, nil
}

// GetItemByHash returns the most recent item with the given hash.
func (s *SQLiteStore) GetItemByHash(ctx context.Context, hash string) (*types.ClipboardItem, error) {
	var model storage.ItemModel
	err := s.db.WithContext(ctx).
		Where("hash = ?", hash).
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item by hash: %w", err)
	}
	return model.ToItem(), nil
}

func (s *SQLiteStore) UpdateThumbnail(ctx context.Context, id int64, thumbnail []byte) error {
	return s.updateItem(ctx, id, map[string]any{"thumbnail": thumbnail})
}

func (s *SQLiteStore) UpdateItemName(ctx context.Context, id int64, name string) error {
	return s.updateItem(ctx, id, map[string]any{"name": name})
}

func (s *SQLiteStore) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	return s.updateItem(ctx, id, map[string]any{"is_favorite": favorite})
}

// SetSecret flips the secret flag and optionally assigns a name in the
// same update, so a just-hidden item can still be recognized in lists.
func (s *SQLiteStore) SetSecret(ctx context.Context, id int64, secret bool, name string) error {
	values := map[string]any{"is_secret": secret}
	if name != "" {
		values["name"] = name
	}
	return s.updateItem(ctx, id, values)
}

func (s *SQLiteStore) updateItem(ctx context.Context, id int64, values map[string]any) error {
	err := s.withWrite(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Model(&storage.ItemModel{}).
			Where("id = ?", id).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to update item %d: %w", id, err)
	}
	return nil
}

// RecordPaste stores a paste record for a live item. A zero timestamp
// defaults to now.
func (s *SQLiteStore) RecordPaste(ctx context.Context, itemID int64, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now()
	}
	record := &storage.PastedModel{ItemID: itemID, PasteTimestamp: at}
	err := s.withWrite(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&storage.ItemModel{}).
			Where("id = ?", itemID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}
		return tx.WithContext(ctx).Create(record).Error
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("failed to record paste for item %d: %w", itemID, err)
	}
	return record.ID, nil
}

func (s *SQLiteStore) GetTotalCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// GetPastedCount returns how many distinct live items have been pasted.
// Because paste records cascade with their item, this can never exceed
// the total item count.
func (s *SQLiteStore) GetPastedCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&storage.PastedModel{}).
		Distinct("item_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pasted items: %w", err)
	}
	return count, nil
}

// GetLatestID returns the highest assigned item id, 0 when empty.
func (s *SQLiteStore) GetLatestID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Select("MAX(id)").
		Scan(&id).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get latest id: %w", err)
	}
	return id.Int64, nil
}

func toItems(models []storage.ItemModel) []*types.ClipboardItem {
	items := make([]*types.ClipboardItem, len(models))
	for i := range models {
		items[i] = models[i].ToItem()
	}
	return items
}
