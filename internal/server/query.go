package server

import (
	"clipd/internal/protocol"
	"clipd/internal/storage"
	"clipd/pkg/types"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"
)

// handleClientConn serves one subscriber: a read loop for requests and a
// write pump multiplexing request replies with hub pushes. Closing the
// connection cancels only this subscriber's session.
func (s *Server) handleClientConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sub := s.hub.Register()
	defer s.hub.Unregister(sub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Replies to this subscriber's own requests.
	replies := make(chan []byte, 16)

	go s.writePump(ctx, conn, sub.C(), replies)

	reader := protocol.NewFrameReader(conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				s.log.Debugw("subscriber read failed", "id", sub.ID, "error", err)
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.reply(ctx, replies, protocol.ErrorResponse("malformed request"))
			continue
		}
		s.reply(ctx, replies, s.handleRequest(ctx, &req))
	}
}

// writePump is the only goroutine writing to conn. It exits when the hub
// drops the subscriber (events closed) or the session ends.
func (s *Server) writePump(ctx context.Context, conn net.Conn, events <-chan []byte, replies <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			// Unblocks the read loop on shutdown.
			conn.Close()
			return
		case message, ok := <-events:
			if !ok {
				conn.Close()
				return
			}
			if err := protocol.WriteFrame(conn, message); err != nil {
				conn.Close()
				return
			}
		case message := <-replies:
			if err := protocol.WriteFrame(conn, message); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *Server) reply(ctx context.Context, replies chan<- []byte, resp *protocol.Response) {
	message, err := json.Marshal(resp)
	if err != nil {
		s.log.Errorw("failed to marshal response", "type", resp.Type, "error", err)
		return
	}
	select {
	case replies <- message:
	case <-ctx.Done():
	}
}

// handleRequest dispatches one request envelope. Per-request failures
// come back as type:error responses; the connection stays open.
func (s *Server) handleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Action {
	case protocol.ActionGetHistory:
		items, total, err := s.store.GetItems(ctx, req.Limit, req.Offset, req.Sort, req.Filters)
		if err != nil {
			return s.errorResponse(err)
		}
		return protocol.PageResponse(protocol.TypeHistory, items, total, req.Offset)

	case protocol.ActionGetRecentlyPasted:
		items, total, err := s.store.GetRecentlyPasted(ctx, req.Limit, req.Offset)
		if err != nil {
			return s.errorResponse(err)
		}
		return protocol.PageResponse(protocol.TypeRecentlyPasted, items, total, req.Offset)

	case protocol.ActionSearch:
		items, err := s.store.SearchItems(ctx, req.Query, req.Limit, req.Filters)
		if err != nil {
			return s.errorResponse(err)
		}
		total := int64(len(items))
		return protocol.PageResponse(protocol.TypeSearchResults, items, total, 0)

	case protocol.ActionGetFileExtensions:
		exts, err := s.store.GetFileExtensions(ctx)
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeFileExtensions, Extensions: exts}

	case protocol.ActionDeleteItem:
		existed, err := s.store.DeleteItem(ctx, req.ID)
		if err != nil {
			return s.errorResponse(err)
		}
		if existed {
			s.hub.Broadcast(&protocol.Response{Type: protocol.TypeItemDeleted, ID: req.ID})
		}
		return &protocol.Response{Type: protocol.TypeItemDeleted, ID: req.ID, Existed: existed}

	case protocol.ActionUpdateItemName:
		if err := s.store.UpdateItemName(ctx, req.ItemID, req.Name); err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeNameUpdated, ItemID: req.ItemID, Name: req.Name}

	case protocol.ActionToggleFavorite:
		if err := s.store.SetFavorite(ctx, req.ItemID, req.IsFavorite); err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeFavoriteToggled, ItemID: req.ItemID, IsFavorite: req.IsFavorite}

	case protocol.ActionToggleSecret:
		if err := s.store.SetSecret(ctx, req.ItemID, req.IsSecret, req.Name); err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeSecretToggled, ItemID: req.ItemID, IsSecret: req.IsSecret}

	case protocol.ActionRecordPaste:
		pasteID, err := s.store.RecordPaste(ctx, req.ID, time.Time{})
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypePasteRecorded, ItemID: req.ID, PasteID: pasteID}

	case protocol.ActionCreateTag:
		id, err := s.store.CreateTag(ctx, req.Name, req.Color, req.Description)
		if err != nil {
			return s.errorResponse(err)
		}
		tag, _ := s.findTag(ctx, id)
		return &protocol.Response{Type: protocol.TypeTagCreated, Tag: tag}

	case protocol.ActionUpdateTag:
		if err := s.store.UpdateTag(ctx, req.TagID, req.Name, req.Color); err != nil {
			return s.errorResponse(err)
		}
		tag, _ := s.findTag(ctx, req.TagID)
		return &protocol.Response{Type: protocol.TypeTagUpdated, Tag: tag}

	case protocol.ActionDeleteTag:
		existed, err := s.store.DeleteTag(ctx, req.TagID)
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeTagDeleted, ID: req.TagID, Existed: existed}

	case protocol.ActionAddItemTag:
		added, err := s.store.AddTagToItem(ctx, req.ItemID, req.TagID)
		if err != nil {
			return s.errorResponse(err)
		}
		tags, err := s.store.GetItemTags(ctx, req.ItemID)
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeItemTags, ItemID: req.ItemID, Tags: tags, Added: added}

	case protocol.ActionRemoveItemTag:
		removed, err := s.store.RemoveTagFromItem(ctx, req.ItemID, req.TagID)
		if err != nil {
			return s.errorResponse(err)
		}
		tags, err := s.store.GetItemTags(ctx, req.ItemID)
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeItemTags, ItemID: req.ItemID, Tags: tags, Removed: removed}

	case protocol.ActionGetItemTags:
		tags, err := s.store.GetItemTags(ctx, req.ItemID)
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeItemTags, ItemID: req.ItemID, Tags: tags}

	case protocol.ActionGetTags:
		tags, err := s.store.GetTags(ctx)
		if err != nil {
			return s.errorResponse(err)
		}
		return &protocol.Response{Type: protocol.TypeTags, Tags: tags}

	default:
		return protocol.ErrorResponse("unknown action: " + req.Action)
	}
}

// findTag looks a tag up by id for tag_created/tag_updated responses.
func (s *Server) findTag(ctx context.Context, id int64) (*types.Tag, error) {
	tags, err := s.store.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Server) errorResponse(err error) *protocol.Response {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return protocol.ErrorResponse("not found")
	case errors.Is(err, storage.ErrDuplicateName):
		return protocol.ErrorResponse("name already exists")
	default:
		s.log.Errorw("request failed", "error", err)
		return protocol.ErrorResponse(err.Error())
	}
}
