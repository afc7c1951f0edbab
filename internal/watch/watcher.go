// Package watch polls the store for newly committed items and publishes
// them to the broadcast hub. Polling trades a bounded propagation delay
// (one poll interval) for independence from the ingestion path; the
// storage engine has no portable push notification to replace it.
package watch

import (
	"clipd/internal/protocol"
	"clipd/pkg/types"
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the reference poll interval.
const DefaultInterval = 500 * time.Millisecond

// ItemSource is the slice of the store the watcher needs.
type ItemSource interface {
	GetLatestID(ctx context.Context) (int64, error)
	GetItemsSince(ctx context.Context, id int64) ([]*types.ClipboardItem, error)
}

// Publisher receives one event per new item.
type Publisher interface {
	Broadcast(event *protocol.Response)
}

// Watcher is the single change-detection loop.
type Watcher struct {
	store    ItemSource
	pub      Publisher
	log      *zap.SugaredLogger
	interval time.Duration

	lastKnownID int64
}

func New(store ItemSource, pub Publisher, interval time.Duration, log *zap.SugaredLogger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{store: store, pub: pub, log: log, interval: interval}
}

// Run polls until ctx is cancelled. Store errors are logged and retried
// on the next tick; the loop never terminates on a transient error.
func (w *Watcher) Run(ctx context.Context) {
	// Items already present at startup are history, not news.
	if id, err := w.store.GetLatestID(ctx); err != nil {
		w.log.Warnw("failed to read latest id at startup", "error", err)
	} else {
		w.lastKnownID = id
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.log.Warnw("change detection tick failed", "error", err)
			}
		}
	}
}

// tick emits a NewItem event for every id above lastKnownID, in order.
// lastKnownID advances only after the whole batch is published, so a
// failed tick is replayed in full on the next one.
func (w *Watcher) tick(ctx context.Context) error {
	currentMax, err := w.store.GetLatestID(ctx)
	if err != nil {
		return err
	}
	if currentMax <= w.lastKnownID {
		return nil
	}

	items, err := w.store.GetItemsSince(ctx, w.lastKnownID)
	if err != nil {
		return err
	}
	for _, item := range items {
		w.pub.Broadcast(&protocol.Response{Type: protocol.TypeNewItem, Item: item})
	}

	// The fetch may have caught inserts newer than currentMax; advance to
	// the highest id actually published so the next tick never re-emits it.
	if n := len(items); n > 0 {
		w.lastKnownID = items[n-1].ID
	} else {
		w.lastKnownID = currentMax
	}
	return nil
}
