package storage

import (
	"clipd/pkg/types"
	"context"
	"time"
)

// Filter names accepted by GetItems and SearchItems. Tag filters use the
// form "tag:<id>". A filter set is combined with OR semantics: an item
// matching any filter in the set is included.
const (
	FilterFavorite = "favorite"
	FilterText     = "text"
	FilterImage    = "image"
	FilterURL      = "url"
	FilterFile     = "file"
)

// Sort orders for listing calls.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
)

// AddOptions carries the optional fields of AddItem. The zero value means
// "timestamp now, no thumbnail, no name, not favorite, not secret".
type AddOptions struct {
	Timestamp  time.Time
	Thumbnail  []byte
	Name       string
	IsFavorite bool
	IsSecret   bool
}

// Store is the persistent clipboard content store. All mutating calls are
// serialized internally; reads may run concurrently with writes.
//
// Deleting an item always removes its item_tags and pasted_items rows in
// the same atomic operation, on every delete path.
type Store interface {
	AddItem(ctx context.Context, itemType string, payload []byte, opts AddOptions) (int64, error)
	GetItem(ctx context.Context, id int64) (*types.ClipboardItem, error)
	GetItems(ctx context.Context, limit, offset int, sort string, filters []string) ([]*types.ClipboardItem, int64, error)
	GetItemsSince(ctx context.Context, id int64) ([]*types.ClipboardItem, error)
	DeleteItem(ctx context.Context, id int64) (bool, error)
	CleanupOldItems(ctx context.Context, maxItems int) ([]int64, error)
	BulkDeleteOldest(ctx context.Context, n int) (int64, error)
	SearchItems(ctx context.Context, query string, limit int, filters []string) ([]*types.ClipboardItem, error)

	HashExists(ctx context.Context, hash string) (bool, error)
	GetItemByHash(ctx context.Context, hash string) (*types.ClipboardItem, error)

	UpdateThumbnail(ctx context.Context, id int64, thumbnail []byte) error
	UpdateItemName(ctx context.Context, id int64, name string) error
	SetFavorite(ctx context.Context, id int64, favorite bool) error
	SetSecret(ctx context.Context, id int64, secret bool, name string) error

	CreateTag(ctx context.Context, name, color, description string) (int64, error)
	UpdateTag(ctx context.Context, id int64, name, color string) error
	DeleteTag(ctx context.Context, id int64) (bool, error)
	AddTagToItem(ctx context.Context, itemID, tagID int64) (bool, error)
	RemoveTagFromItem(ctx context.Context, itemID, tagID int64) (bool, error)
	GetItemTags(ctx context.Context, itemID int64) ([]*types.Tag, error)
	GetTags(ctx context.Context) ([]*types.Tag, error)
	GetItemsByTags(ctx context.Context, tagIDs []int64, matchAll bool) ([]*types.ClipboardItem, error)

	RecordPaste(ctx context.Context, itemID int64, at time.Time) (int64, error)
	GetRecentlyPasted(ctx context.Context, limit, offset int) ([]*types.ClipboardItem, int64, error)
	GetFileExtensions(ctx context.Context) ([]string, error)

	GetTotalCount(ctx context.Context) (int64, error)
	GetPastedCount(ctx context.Context) (int64, error)
	GetLatestID(ctx context.Context) (int64, error)

	Close() error
}

// Config holds storage configuration
type Config struct {
	DBPath string // Path to SQLite database
}
