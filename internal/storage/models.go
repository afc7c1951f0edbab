package storage

import (
	"clipd/pkg/types"
	"time"
)

// ItemModel is the gorm model for the items table.
type ItemModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"index;not null"`
	Type       string    `gorm:"index;not null"`
	Payload    []byte    `gorm:"type:blob;not null"`
	Thumbnail  []byte    `gorm:"type:blob"`
	Hash       string    `gorm:"index;not null"`
	Name       string
	IsFavorite bool `gorm:"index;default:false"`
	IsSecret   bool `gorm:"default:false"`
	CreatedAt  time.Time
}

func (ItemModel) TableName() string { return "items" }

func (m *ItemModel) ToItem() *types.ClipboardItem {
	return &types.ClipboardItem{
		ID:         m.ID,
		Timestamp:  m.Timestamp,
		Type:       m.Type,
		Payload:    m.Payload,
		Thumbnail:  m.Thumbnail,
		Hash:       m.Hash,
		Name:       m.Name,
		IsFavorite: m.IsFavorite,
		IsSecret:   m.IsSecret,
		CreatedAt:  m.CreatedAt,
	}
}

// TagModel is the gorm model for the tags table.
type TagModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex;not null"`
	Color       string
	Description string
}

func (TagModel) TableName() string { return "tags" }

func (m *TagModel) ToTag() *types.Tag {
	return &types.Tag{
		ID:          m.ID,
		Name:        m.Name,
		Color:       m.Color,
		Description: m.Description,
	}
}

// ItemTagModel joins items and tags. The (item_id, tag_id) pair is unique.
type ItemTagModel struct {
	ItemID int64 `gorm:"primaryKey;autoIncrement:false"`
	TagID  int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (ItemTagModel) TableName() string { return "item_tags" }

// PastedModel records one paste of an item. Rows are deleted only as a
// cascade of their item's deletion.
type PastedModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ItemID         int64     `gorm:"index;not null"`
	PasteTimestamp time.Time `gorm:"index;not null"`
}

func (PastedModel) TableName() string { return "pasted_items" }
