package types

import (
	"strings"
	"time"
)

// Content type strings. Image items carry a subtype, e.g. "image/png";
// they are matched by prefix.
const (
	TypeText       = "text"
	TypeImage      = "image"
	TypeScreenshot = "screenshot"
	TypeFile       = "file"
	TypeURL        = "url"
	TypeOther      = "other"
)

// ClipboardItem is one recorded clipboard event.
type ClipboardItem struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Payload    []byte    `json:"payload,omitempty"`
	Thumbnail  []byte    `json:"thumbnail,omitempty"`
	Hash       string    `json:"hash"`
	Name       string    `json:"name,omitempty"`
	IsFavorite bool      `json:"is_favorite"`
	IsSecret   bool      `json:"is_secret"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsImage reports whether the item holds image bytes a thumbnail can be
// generated from. Screenshots are images with a dedicated type tag.
func (c *ClipboardItem) IsImage() bool {
	return c.Type == TypeScreenshot || strings.HasPrefix(c.Type, TypeImage)
}

// Tag is a user-defined label attachable to any number of items.
type Tag struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// FileMeta is the structured metadata carried in the payload of file items.
type FileMeta struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	IsDir     bool   `json:"is_dir"`
}
