package protocol

import (
	"clipd/pkg/types"
	"encoding/json"
	"time"
)

// Request actions.
const (
	ActionGetHistory        = "get_history"
	ActionGetRecentlyPasted = "get_recently_pasted"
	ActionSearch            = "search"
	ActionGetFileExtensions = "get_file_extensions"
	ActionDeleteItem        = "delete_item"
	ActionUpdateItemName    = "update_item_name"
	ActionToggleFavorite    = "toggle_favorite"
	ActionToggleSecret      = "toggle_secret"
	ActionRecordPaste       = "record_paste"
	ActionCreateTag         = "create_tag"
	ActionUpdateTag         = "update_tag"
	ActionDeleteTag         = "delete_tag"
	ActionAddItemTag        = "add_item_tag"
	ActionRemoveItemTag     = "remove_item_tag"
	ActionGetItemTags       = "get_item_tags"
	ActionGetTags           = "get_tags"
)

// Response types.
const (
	TypeHistory         = "history"
	TypeRecentlyPasted  = "recently_pasted"
	TypeSearchResults   = "search_results"
	TypeNewItem         = "new_item"
	TypeItemDeleted     = "item_deleted"
	TypeTags            = "tags"
	TypeItemTags        = "item_tags"
	TypeTagCreated      = "tag_created"
	TypeTagUpdated      = "tag_updated"
	TypeTagDeleted      = "tag_deleted"
	TypeFavoriteToggled = "favorite_toggled"
	TypeSecretToggled   = "secret_toggled"
	TypeNameUpdated     = "name_updated"
	TypePasteRecorded   = "paste_recorded"
	TypeFileExtensions  = "file_extensions"
	TypeError           = "error"
)

// Request is the envelope for every subscriber request. Fields not used
// by the given action stay zero.
type Request struct {
	Action string `json:"action"`

	// Pagination / listing
	Offset  int      `json:"offset,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Sort    string   `json:"sort,omitempty"`
	Filters []string `json:"filters,omitempty"`

	// Search
	Query string `json:"query,omitempty"`

	// Item mutations
	ID         int64  `json:"id,omitempty"`
	ItemID     int64  `json:"item_id,omitempty"`
	Name       string `json:"name,omitempty"`
	IsFavorite bool   `json:"is_favorite,omitempty"`
	IsSecret   bool   `json:"is_secret,omitempty"`

	// Tags
	TagID       int64  `json:"tag_id,omitempty"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Response is the envelope for every message sent to a subscriber,
// both request replies and pushed change events.
type Response struct {
	Type string `json:"type"`

	Items      []*types.ClipboardItem `json:"items,omitempty"`
	TotalCount *int64                 `json:"total_count,omitempty"`
	Offset     *int                   `json:"offset,omitempty"`

	Item *types.ClipboardItem `json:"item,omitempty"`
	ID   int64                `json:"id,omitempty"`

	Tags []*types.Tag `json:"tags,omitempty"`
	Tag  *types.Tag   `json:"tag,omitempty"`

	ItemID     int64    `json:"item_id,omitempty"`
	IsFavorite bool     `json:"is_favorite,omitempty"`
	IsSecret   bool     `json:"is_secret,omitempty"`
	Name       string   `json:"name,omitempty"`
	Existed    bool     `json:"existed,omitempty"`
	Added      bool     `json:"added,omitempty"`
	Removed    bool     `json:"removed,omitempty"`
	PasteID    int64    `json:"paste_id,omitempty"`
	Extensions []string `json:"extensions,omitempty"`

	Message string `json:"message,omitempty"`
}

// IngestEvent is one framed clipboard event from the capture client.
// Text and URL content arrives in Text; binary content in Data.
type IngestEvent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Data      []byte          `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	File      *types.FileMeta `json:"file,omitempty"`
}

// Payload returns the stored byte form of the event's content.
func (e *IngestEvent) Payload() ([]byte, error) {
	if e.File != nil {
		return json.Marshal(e.File)
	}
	if len(e.Data) > 0 {
		return e.Data, nil
	}
	return []byte(e.Text), nil
}

// ErrorResponse builds a type:error envelope.
func ErrorResponse(message string) *Response {
	return &Response{Type: TypeError, Message: message}
}

// PageResponse builds a paginated envelope of the given type.
func PageResponse(typ string, items []*types.ClipboardItem, total int64, offset int) *Response {
	return &Response{Type: typ, Items: items, TotalCount: &total, Offset: &offset}
}
