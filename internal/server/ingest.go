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
	"strings"
)

// handleIngestConn consumes framed clipboard events from the capture
// client. This is the only path that creates items.
func (s *Server) handleIngestConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.log.Infow("capture client connected", "addr", conn.RemoteAddr())

	reader := protocol.NewFrameReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				s.log.Warnw("ingest read failed", "error", err)
			}
			return
		}

		var event protocol.IngestEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			s.log.Warnw("malformed ingest event", "error", err)
			continue
		}
		if err := s.ingest(ctx, &event); err != nil {
			s.log.Warnw("failed to ingest clipboard event", "type", event.Type, "error", err)
		}
	}
}

// ingest normalizes one event, writes it through the store, hands image
// payloads to the thumbnail pipeline, and applies the retention policy.
func (s *Server) ingest(ctx context.Context, event *protocol.IngestEvent) error {
	payload, err := event.Payload()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	itemType := normalizeType(event)

	id, err := s.store.AddItem(ctx, itemType, payload, storage.AddOptions{
		Timestamp: event.Timestamp,
	})
	if err != nil {
		if errors.Is(err, storage.ErrPayloadTooLarge) {
			s.log.Warnw("clipboard event too large, skipped", "type", itemType, "size", len(payload))
			return nil
		}
		return err
	}
	s.log.Debugw("stored clipboard item", "id", id, "type", itemType, "size", len(payload))

	if itemType == types.TypeScreenshot || strings.HasPrefix(itemType, types.TypeImage) {
		s.thumbnails.Enqueue(id, payload)
	}

	// Retention runs after every insert; the watcher announces the new
	// item, evictions are announced here.
	evicted, err := s.store.CleanupOldItems(ctx, s.config.MaxItems)
	if err != nil {
		s.log.Warnw("retention cleanup failed", "error", err)
		return nil
	}
	for _, evictedID := range evicted {
		s.hub.Broadcast(&protocol.Response{Type: protocol.TypeItemDeleted, ID: evictedID})
	}
	return nil
}

// normalizeType maps an event onto one of the stored type tags. Unknown
// types are kept as "other" rather than rejected.
func normalizeType(event *protocol.IngestEvent) string {
	t := strings.ToLower(strings.TrimSpace(event.Type))
	switch {
	case event.File != nil || t == types.TypeFile:
		return types.TypeFile
	case t == types.TypeScreenshot:
		return types.TypeScreenshot
	case strings.HasPrefix(t, types.TypeImage):
		return t
	case t == types.TypeURL:
		return types.TypeURL
	case t == types.TypeText || t == "":
		return types.TypeText
	default:
		return types.TypeOther
	}
}
