package server

import (
	"clipd/internal/hub"
	"clipd/internal/protocol"
	"clipd/internal/storage"
	"clipd/internal/storage/sqlite"
	"clipd/internal/thumbnail"
	"clipd/pkg/types"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *sqlite.SQLiteStore) {
	t.Helper()
	log := zap.NewNop().Sugar()

	store, err := sqlite.New(storage.Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.New(log)
	go h.Run(ctx)

	pipeline := thumbnail.New(store, 1, 8, 250, log)
	pipeline.Start(ctx)

	s := New(store, h, pipeline, Config{MaxItems: 100}, log)
	s.ctx = ctx
	return s, store
}

func addItem(t *testing.T, store *sqlite.SQLiteStore, typ, payload string) int64 {
	t.Helper()
	id, err := store.AddItem(context.Background(), typ, []byte(payload), storage.AddOptions{})
	require.NoError(t, err)
	return id
}

func TestHandleRequest_GetHistory(t *testing.T) {
	s, store := newTestServer(t)
	for i := 0; i < 4; i++ {
		addItem(t, store, types.TypeText, "entry")
	}

	resp := s.handleRequest(context.Background(), &protocol.Request{
		Action: protocol.ActionGetHistory,
		Limit:  2,
		Offset: 1,
	})
	require.Equal(t, protocol.TypeHistory, resp.Type)
	assert.Len(t, resp.Items, 2)
	require.NotNil(t, resp.TotalCount)
	assert.Equal(t, int64(4), *resp.TotalCount)
	require.NotNil(t, resp.Offset)
	assert.Equal(t, 1, *resp.Offset)
}

func TestHandleRequest_UnknownAction(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.handleRequest(context.Background(), &protocol.Request{Action: "fly_to_moon"})
	assert.Equal(t, protocol.TypeError, resp.Type)
	assert.Contains(t, resp.Message, "unknown action")
}

func TestHandleRequest_DeleteBroadcasts(t *testing.T) {
	s, store := newTestServer(t)
	id := addItem(t, store, types.TypeText, "doomed")

	watcher := s.hub.Register()
	defer s.hub.Unregister(watcher)

	resp := s.handleRequest(context.Background(), &protocol.Request{
		Action: protocol.ActionDeleteItem,
		ID:     id,
	})
	require.Equal(t, protocol.TypeItemDeleted, resp.Type)
	assert.True(t, resp.Existed)

	select {
	case message := <-watcher.C():
		var event protocol.Response
		require.NoError(t, json.Unmarshal(message, &event))
		assert.Equal(t, protocol.TypeItemDeleted, event.Type)
		assert.Equal(t, id, event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected item_deleted broadcast")
	}
}

func TestHandleRequest_DeleteMissingItem(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.handleRequest(context.Background(), &protocol.Request{
		Action: protocol.ActionDeleteItem,
		ID:     999,
	})
	require.Equal(t, protocol.TypeItemDeleted, resp.Type)
	assert.False(t, resp.Existed)
}

func TestHandleRequest_TagLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	resp := s.handleRequest(ctx, &protocol.Request{
		Action: protocol.ActionCreateTag,
		Name:   "work",
		Color:  "#aa0000",
	})
	require.Equal(t, protocol.TypeTagCreated, resp.Type)
	require.NotNil(t, resp.Tag)
	tagID := resp.Tag.ID

	resp = s.handleRequest(ctx, &protocol.Request{Action: protocol.ActionCreateTag, Name: "work"})
	require.Equal(t, protocol.TypeError, resp.Type)
	assert.Contains(t, resp.Message, "already exists")

	resp = s.handleRequest(ctx, &protocol.Request{
		Action: protocol.ActionUpdateTag,
		TagID:  tagID,
		Name:   "office",
	})
	require.Equal(t, protocol.TypeTagUpdated, resp.Type)
	assert.Equal(t, "office", resp.Tag.Name)

	resp = s.handleRequest(ctx, &protocol.Request{Action: protocol.ActionGetTags})
	require.Equal(t, protocol.TypeTags, resp.Type)
	assert.Len(t, resp.Tags, 1)

	resp = s.handleRequest(ctx, &protocol.Request{Action: protocol.ActionDeleteTag, TagID: tagID})
	require.Equal(t, protocol.TypeTagDeleted, resp.Type)
	assert.True(t, resp.Existed)
}

func TestHandleRequest_ItemTags(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	itemID := addItem(t, store, types.TypeText, "tagged")

	created := s.handleRequest(ctx, &protocol.Request{Action: protocol.ActionCreateTag, Name: "pick"})
	require.Equal(t, protocol.TypeTagCreated, created.Type)

	resp := s.handleRequest(ctx, &protocol.Request{
		Action: protocol.ActionAddItemTag,
		ItemID: itemID,
		TagID:  created.Tag.ID,
	})
	require.Equal(t, protocol.TypeItemTags, resp.Type)
	assert.True(t, resp.Added)
	assert.Len(t, resp.Tags, 1)

	resp = s.handleRequest(ctx, &protocol.Request{
		Action: protocol.ActionAddItemTag,
		ItemID: itemID,
		TagID:  created.Tag.ID,
	})
	assert.False(t, resp.Added, "second add is a no-op")
	assert.Len(t, resp.Tags, 1)

	resp = s.handleRequest(ctx, &protocol.Request{
		Action: protocol.ActionRemoveItemTag,
		ItemID: itemID,
		TagID:  created.Tag.ID,
	})
	require.Equal(t, protocol.TypeItemTags, resp.Type)
	assert.True(t, resp.Removed)
	assert.Empty(t, resp.Tags)
}

func TestHandleRequest_RecordPasteNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.handleRequest(context.Background(), &protocol.Request{
		Action: protocol.ActionRecordPaste,
		ID:     12345,
	})
	require.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, "not found", resp.Message)
}

func TestHandleRequest_Toggles(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	id := addItem(t, store, types.TypeText, "toggle me")

	resp := s.handleRequest(ctx, &protocol.Request{
		Action:     protocol.ActionToggleFavorite,
		ItemID:     id,
		IsFavorite: true,
	})
	require.Equal(t, protocol.TypeFavoriteToggled, resp.Type)
	assert.True(t, resp.IsFavorite)

	resp = s.handleRequest(ctx, &protocol.Request{
		Action:   protocol.ActionToggleSecret,
		ItemID:   id,
		IsSecret: true,
		Name:     "hidden",
	})
	require.Equal(t, protocol.TypeSecretToggled, resp.Type)

	item, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, item.IsFavorite)
	assert.True(t, item.IsSecret)
	assert.Equal(t, "hidden", item.Name)
}

// TestClientConn_FramedSession drives a whole subscriber session over an
// in-memory pipe: a valid request, a malformed frame, then another valid
// request on the still-open connection.
func TestClientConn_FramedSession(t *testing.T) {
	s, store := newTestServer(t)
	addItem(t, store, types.TypeText, "hello")

	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleClientConn(s.ctx, srv)
	}()

	send := func(v any) {
		body, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, protocol.WriteFrame(client, body))
	}
	reader := protocol.NewFrameReader(client)
	read := func() *protocol.Response {
		frame, err := reader.ReadFrame()
		require.NoError(t, err)
		var resp protocol.Response
		require.NoError(t, json.Unmarshal(frame, &resp))
		return &resp
	}

	send(&protocol.Request{Action: protocol.ActionGetHistory, Limit: 10})
	resp := read()
	assert.Equal(t, protocol.TypeHistory, resp.Type)
	assert.Len(t, resp.Items, 1)

	// Malformed JSON: an error response, and the connection stays open.
	require.NoError(t, protocol.WriteFrame(client, []byte("{not json")))
	resp = read()
	assert.Equal(t, protocol.TypeError, resp.Type)

	send(&protocol.Request{Action: protocol.ActionGetTags})
	resp = read()
	assert.Equal(t, protocol.TypeTags, resp.Type)

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after client close")
	}
}
