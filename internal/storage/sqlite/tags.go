package sqlite

import (
	"clipd/internal/storage"
	"clipd/pkg/types"
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// CreateTag creates a tag with a unique name.
func (s *SQLiteStore) CreateTag(ctx context.Context, name, color, description string) (int64, error) {
	model := &storage.TagModel{Name: name, Color: color, Description: description}
	err := s.withWrite(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&storage.TagModel{}).
			Where("name = ?", name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return storage.ErrDuplicateName
		}
		return tx.WithContext(ctx).Create(model).Error
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			return 0, storage.ErrDuplicateName
		}
		return 0, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	return model.ID, nil
}

// UpdateTag renames and/or recolors a tag. Empty fields are left as-is.
func (s *SQLiteStore) UpdateTag(ctx context.Context, id int64, name, color string) error {
	values := map[string]any{}
	if name != "" {
		values["name"] = name
	}
	if color != "" {
		values["color"] = color
	}
	if len(values) == 0 {
		return nil
	}

	err := s.withWrite(func(tx *gorm.DB) error {
		if name != "" {
			var count int64
			if err := tx.WithContext(ctx).Model(&storage.TagModel{}).
				Where("name = ? AND id <> ?", name, id).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return storage.ErrDuplicateName
			}
		}
		res := tx.WithContext(ctx).Model(&storage.TagModel{}).
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
		if errors.Is(err, storage.ErrDuplicateName) || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to update tag %d: %w", id, err)
	}
	return nil
}

// DeleteTag removes the tag and every item_tags row referencing it.
func (s *SQLiteStore) DeleteTag(ctx context.Context, id int64) (bool, error) {
	existed := false
	err := s.withWrite(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Delete(&storage.TagModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		existed = true
		return tx.WithContext(ctx).Where("tag_id = ?", id).Delete(&storage.ItemTagModel{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete tag %d: %w", id, err)
	}
	return existed, nil
}

// AddTagToItem links a tag to an item. Adding an existing pair is a
// no-op returning false.
func (s *SQLiteStore) AddTagToItem(ctx context.Context, itemID, tagID int64) (bool, error) {
	added := false
	err := s.withWrite(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&storage.ItemModel{}).
			Where("id = ?", itemID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}
		if err := tx.WithContext(ctx).Model(&storage.TagModel{}).
			Where("id = ?", tagID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}
		if err := tx.WithContext(ctx).Model(&storage.ItemTagModel{}).
			Where("item_id = ? AND tag_id = ?", itemID, tagID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		added = true
		return tx.WithContext(ctx).Create(&storage.ItemTagModel{ItemID: itemID, TagID: tagID}).Error
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("failed to tag item %d with %d: %w", itemID, tagID, err)
	}
	return added, nil
}

// RemoveTagFromItem unlinks a tag from an item, reporting whether the
// pair existed.
func (s *SQLiteStore) RemoveTagFromItem(ctx context.Context, itemID, tagID int64) (bool, error) {
	removed := false
	err := s.withWrite(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).
			Where("item_id = ? AND tag_id = ?", itemID, tagID).
			Delete(&storage.ItemTagModel{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to untag item %d from %d: %w", itemID, tagID, err)
	}
	return removed, nil
}

func (s *SQLiteStore) GetItemTags(ctx context.Context, itemID int64) ([]*types.Tag, error) {
	var models []storage.TagModel
	err := s.db.WithContext(ctx).Model(&storage.TagModel{}).
		Joins("JOIN item_tags ON item_tags.tag_id = tags.id").
		Where("item_tags.item_id = ?", itemID).
		Order("tags.name ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for item %d: %w", itemID, err)
	}
	return toTags(models), nil
}

func (s *SQLiteStore) GetTags(ctx context.Context) ([]*types.Tag, error) {
	var models []storage.TagModel
	err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return toTags(models), nil
}

func toTags(models []storage.TagModel) []*types.Tag {
	tags := make([]*types.Tag, len(models))
	for i := range models {
		tags[i] = models[i].ToTag()
	}
	return tags
}
