package sqlite

import (
	"clipd/internal/storage"
	"clipd/pkg/types"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// filterClause expands a filter set into a single OR-joined predicate.
// OR semantics across the whole set is deliberate and preserved: the set
// {favorite, text} selects the union of favorites and text items, not
// their intersection. Unknown filter names are skipped.
func filterClause(filters []string) (string, []any) {
	var conds []string
	var args []any
	for _, f := range filters {
		switch {
		case f == storage.FilterFavorite:
			conds = append(conds, "is_favorite = ?")
			args = append(args, true)
		case f == storage.FilterText:
			conds = append(conds, "type = ?")
			args = append(args, types.TypeText)
		case f == storage.FilterImage:
			conds = append(conds, "(type LIKE ? OR type = ?)")
			args = append(args, types.TypeImage+"%", types.TypeScreenshot)
		case f == storage.FilterURL:
			conds = append(conds, "type = ?")
			args = append(args, types.TypeURL)
		case f == storage.FilterFile:
			conds = append(conds, "type = ?")
			args = append(args, types.TypeFile)
		case strings.HasPrefix(f, "tag:"):
			tagID, err := strconv.ParseInt(strings.TrimPrefix(f, "tag:"), 10, 64)
			if err != nil {
				continue
			}
			conds = append(conds, "id IN (SELECT item_id FROM item_tags WHERE tag_id = ?)")
			args = append(args, tagID)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

func sortOrder(sortBy string) string {
	if sortBy == storage.SortOldest {
		return "timestamp ASC, id ASC"
	}
	return "timestamp DESC, id DESC"
}

// GetItems returns one page of history plus the total count matching the
// same filters, so clients can compute "has more" without a second call.
func (s *SQLiteStore) GetItems(ctx context.Context, limit, offset int, sortBy string, filters []string) ([]*types.ClipboardItem, int64, error) {
	base := s.db.WithContext(ctx).Model(&storage.ItemModel{})
	if clause, args := filterClause(filters); clause != "" {
		base = base.Where(clause, args...)
	}
	// The chain is reused for the count and the page query.
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	query := base.Order(sortOrder(sortBy))
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var models []storage.ItemModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	return toItems(models), total, nil
}

// SearchItems matches whitespace-separated terms conjunctively against
// item payloads and names; a query wrapped in double quotes is matched as
// one exact phrase. Secret items are excluded from the text corpus, but a
// non-text filter can still pull them in.
func (s *SQLiteStore) SearchItems(ctx context.Context, query string, limit int, filters []string) ([]*types.ClipboardItem, error) {
	textCond, textArgs := searchClause(query)
	filterCond, filterArgs := filterClause(filters)

	db := s.db.WithContext(ctx).Model(&storage.ItemModel{})
	switch {
	case textCond != "" && filterCond != "":
		db = db.Where(textCond+" OR "+filterCond, append(textArgs, filterArgs...)...)
	case textCond != "":
		db = db.Where(textCond, textArgs...)
	case filterCond != "":
		db = db.Where(filterCond, filterArgs...)
	default:
		return nil, nil
	}

	db = db.Order("timestamp DESC, id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}

	var models []storage.ItemModel
	if err := db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	return toItems(models), nil
}

func searchClause(query string) (string, []any) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}

	var terms []string
	if len(query) >= 2 && strings.HasPrefix(query, `"`) && strings.HasSuffix(query, `"`) {
		terms = []string{strings.Trim(query, `"`)}
	} else {
		terms = strings.Fields(query)
	}

	conds := make([]string, 0, len(terms)+1)
	args := make([]any, 0, 2*len(terms)+1)
	conds = append(conds, "is_secret = ?")
	args = append(args, false)
	for _, term := range terms {
		pattern := "%" + strings.ToLower(term) + "%"
		conds = append(conds, "(LOWER(CAST(payload AS TEXT)) LIKE ? OR LOWER(name) LIKE ?)")
		args = append(args, pattern, pattern)
	}
	return "(" + strings.Join(conds, " AND ") + ")", args
}

// GetRecentlyPasted pages through items ordered by their most recent
// paste, newest first. Total is the distinct pasted-item count.
func (s *SQLiteStore) GetRecentlyPasted(ctx context.Context, limit, offset int) ([]*types.ClipboardItem, int64, error) {
	total, err := s.GetPastedCount(ctx)
	if err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Joins("JOIN (SELECT item_id, MAX(paste_timestamp) AS last_paste FROM pasted_items GROUP BY item_id) p ON p.item_id = items.id").
		Order("p.last_paste DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var models []storage.ItemModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list recently pasted items: %w", err)
	}
	return toItems(models), total, nil
}

// GetFileExtensions returns the sorted distinct extensions found in the
// metadata of file items. Payloads that fail to decode are skipped.
func (s *SQLiteStore) GetFileExtensions(ctx context.Context) ([]string, error) {
	var payloads [][]byte
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Where("type = ?", types.TypeFile).
		Pluck("payload", &payloads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list file items: %w", err)
	}

	seen := make(map[string]struct{})
	for _, payload := range payloads {
		var meta types.FileMeta
		if err := json.Unmarshal(payload, &meta); err != nil {
			continue
		}
		if meta.Extension != "" {
			seen[strings.ToLower(meta.Extension)] = struct{}{}
		}
	}

	exts := make([]string, 0, len(seen))
	for ext := range seen {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts, nil
}

// GetItemsByTags returns the items carrying the given tags. With matchAll
// an item must carry every tag; otherwise at least one.
func (s *SQLiteStore) GetItemsByTags(ctx context.Context, tagIDs []int64, matchAll bool) ([]*types.ClipboardItem, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}

	sub := s.db.Model(&storage.ItemTagModel{}).
		Select("item_id").
		Where("tag_id IN ?", tagIDs).
		Group("item_id")
	if matchAll {
		sub = sub.Having("COUNT(DISTINCT tag_id) = ?", len(tagIDs))
	}

	var models []storage.ItemModel
	err := s.db.WithContext(ctx).Model(&storage.ItemModel{}).
		Where("id IN (?)", sub).
		Order("timestamp DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items by tags: %w", err)
	}
	return toItems(models), nil
}
