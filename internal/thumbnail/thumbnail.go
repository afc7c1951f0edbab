// Package thumbnail turns raw image payloads into small previews on a
// fixed worker pool, entirely off the ingestion path. A failed or
// skipped thumbnail leaves the item without one, which every consumer
// already handles; it is never an error that blocks ingestion.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	// DefaultWorkers is the reference pool size.
	DefaultWorkers = 2
	// DefaultMaxEdge bounds the long edge of a generated preview.
	DefaultMaxEdge = 250
	// DefaultQueueSize bounds pending jobs before overflow is dropped.
	DefaultQueueSize = 64
)

// Writer is the slice of the store the pipeline writes through.
type Writer interface {
	UpdateThumbnail(ctx context.Context, id int64, thumbnail []byte) error
}

type job struct {
	itemID int64
	data   []byte
}

// Pipeline is the bounded thumbnail worker pool.
type Pipeline struct {
	store   Writer
	log     *zap.SugaredLogger
	jobs    chan job
	maxEdge int
	workers int
	wg      sync.WaitGroup
}

func New(store Writer, workers, queueSize, maxEdge int, log *zap.SugaredLogger) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	return &Pipeline{
		store:   store,
		log:     log,
		jobs:    make(chan job, queueSize),
		maxEdge: maxEdge,
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Enqueue submits a job without blocking. When the queue is full the job
// is dropped and logged; the item simply stays without a thumbnail.
func (p *Pipeline) Enqueue(itemID int64, imageData []byte) {
	select {
	case p.jobs <- job{itemID: itemID, data: imageData}:
	default:
		p.log.Warnw("thumbnail queue full, skipping item", "item_id", itemID)
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			if err := p.process(ctx, j); err != nil {
				p.log.Warnw("thumbnail generation failed",
					"item_id", j.itemID, "worker", id, "error", err)
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, j job) error {
	preview, err := Generate(j.data, p.maxEdge)
	if err != nil {
		return err
	}
	if err := p.store.UpdateThumbnail(ctx, j.itemID, preview); err != nil {
		return fmt.Errorf("failed to store thumbnail: %w", err)
	}
	return nil
}

// Generate decodes imageData, fits it inside a maxEdge square preserving
// aspect ratio, and re-encodes the preview as PNG. Images already within
// bounds are re-encoded without resampling.
func Generate(imageData []byte, maxEdge int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxEdge || bounds.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
