package server

import (
	"bytes"
	"clipd/internal/protocol"
	"clipd/pkg/types"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		name  string
		event protocol.IngestEvent
		want  string
	}{
		{"plain text", protocol.IngestEvent{Type: "text"}, types.TypeText},
		{"empty defaults to text", protocol.IngestEvent{}, types.TypeText},
		{"image subtype kept", protocol.IngestEvent{Type: "image/png"}, "image/png"},
		{"screenshot", protocol.IngestEvent{Type: "screenshot"}, types.TypeScreenshot},
		{"url", protocol.IngestEvent{Type: "url"}, types.TypeURL},
		{"file via metadata", protocol.IngestEvent{File: &types.FileMeta{Name: "a.txt"}}, types.TypeFile},
		{"unknown becomes other", protocol.IngestEvent{Type: "vcard"}, types.TypeOther},
		{"case insensitive", protocol.IngestEvent{Type: "TEXT"}, types.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeType(&tt.event))
		})
	}
}

func TestIngest_StoresTextEvent(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.ingest(ctx, &protocol.IngestEvent{
		Type: "text",
		Text: "copied words",
	}))

	items, total, err := store.GetItems(ctx, 10, 0, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "copied words", string(items[0].Payload))
	assert.Equal(t, types.TypeText, items[0].Type)
}

func TestIngest_EmptyEventSkipped(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.ingest(ctx, &protocol.IngestEvent{Type: "text"}))
	total, err := store.GetTotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngest_ImageGetsThumbnail(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 400, 400))))

	require.NoError(t, s.ingest(ctx, &protocol.IngestEvent{
		Type: "image/png",
		Data: buf.Bytes(),
	}))

	id, err := store.GetLatestID(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		item, err := store.GetItem(ctx, id)
		return err == nil && len(item.Thumbnail) > 0
	}, 5*time.Second, 20*time.Millisecond, "thumbnail is generated off the ingestion path")
}

func TestIngest_FilePayloadIsMetadata(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.ingest(ctx, &protocol.IngestEvent{
		File: &types.FileMeta{Name: "notes.md", Extension: "md", Size: 321},
	}))

	id, err := store.GetLatestID(ctx)
	require.NoError(t, err)
	item, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TypeFile, item.Type)

	var meta types.FileMeta
	require.NoError(t, json.Unmarshal(item.Payload, &meta))
	assert.Equal(t, "notes.md", meta.Name)
	assert.Equal(t, int64(321), meta.Size)
}

func TestIngest_EvictionBroadcastsDeletes(t *testing.T) {
	s, store := newTestServer(t)
	s.config.MaxItems = 2
	ctx := context.Background()

	sub := s.hub.Register()
	defer s.hub.Unregister(sub)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.ingest(ctx, &protocol.IngestEvent{
			Type:      "text",
			Text:      "event",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	// The third insert pushes the non-favorite count past the ceiling.
	select {
	case message := <-sub.C():
		var event protocol.Response
		require.NoError(t, json.Unmarshal(message, &event))
		assert.Equal(t, protocol.TypeItemDeleted, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an item_deleted broadcast for the evicted item")
	}

	total, err := store.GetTotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
