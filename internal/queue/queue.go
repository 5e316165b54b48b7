// Package queue provides the shared at-least-once outbound dispatch queue.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Item is one unit of work. Queue state is in-memory only: a crash drops
// in-flight items.
type Item[T any] struct {
	ID         string
	Payload    T
	EnqueuedAt time.Time
	Retries    int
}

// ProcessFunc attempts one delivery. A returned error triggers a retry until
// the budget is exhausted.
type ProcessFunc[T any] func(ctx context.Context, item Item[T]) error

// DropFunc observes an item dropped after its retry budget is spent (or a
// failure classified as terminal). Fire-and-forget: the original enqueuer is
// never notified.
type DropFunc[T any] func(item Item[T], err error)

// ClassifyFunc reports whether a processing error is retryable. A nil hook
// retries everything, preserving the untyped retry-for-everything policy.
type ClassifyFunc func(err error) bool

// Config tunes a queue instance.
type Config struct {
	TickInterval time.Duration
	MaxRetries   int
}

// Queue is a FIFO work queue drained one item per tick by a background
// driver. The driver stops itself when the queue empties and restarts on the
// next Enqueue; the running flag shares the items mutex so a racing enqueue
// can never leave the queue unattended or spawn a second driver.
//
// Ordering: FIFO among items with equal retry count. A failed item re-enters
// at the tail, so a retried item is delivered after newer items.
type Queue[T any] struct {
	process  ProcessFunc[T]
	onDrop   DropFunc[T]
	classify ClassifyFunc
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	items   []Item[T]
	running bool
	closed  bool
}

// New creates a queue. onDrop and classify may be nil.
func New[T any](cfg Config, process ProcessFunc[T], onDrop DropFunc[T], classify ClassifyFunc, logger *zap.Logger) *Queue[T] {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Queue[T]{
		process:  process,
		onDrop:   onDrop,
		classify: classify,
		cfg:      cfg,
		logger:   logger,
	}
}

// Enqueue appends a unit of work and returns its id (generated when empty).
// Non-blocking; starts the driver if it is not running.
func (q *Queue[T]) Enqueue(payload T, id ...string) string {
	itemID := ""
	if len(id) > 0 {
		itemID = id[0]
	}
	if itemID == "" {
		itemID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return itemID
	}
	q.items = append(q.items, Item[T]{
		ID:         itemID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	})
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drive()
	}
	return itemID
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting work and lets the driver drain out on its own.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

func (q *Queue[T]) drive() {
	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for range ticker.C {
		item, ok := q.pop()
		if !ok {
			return
		}

		err := q.process(context.Background(), item)
		if err == nil {
			continue
		}

		retryable := q.classify == nil || q.classify(err)
		if retryable && item.Retries < q.cfg.MaxRetries {
			item.Retries++
			q.requeue(item)
			if q.logger != nil {
				q.logger.Warn("dispatch failed, retrying",
					zap.String("item_id", item.ID),
					zap.Int("retry", item.Retries),
					zap.Error(err))
			}
			continue
		}

		if q.logger != nil {
			q.logger.Error("dispatch dropped",
				zap.String("item_id", item.ID),
				zap.Int("attempts", item.Retries+1),
				zap.Error(err))
		}
		if q.onDrop != nil {
			q.onDrop(item, err)
		}
	}
}

// pop removes the head item. When the queue is empty it clears the running
// flag under the same lock Enqueue uses, so the driver exits exactly when no
// new work can have been added.
func (q *Queue[T]) pop() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.closed {
		q.running = false
		var zero Item[T]
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// requeue puts a failed item back at the tail.
func (q *Queue[T]) requeue(item Item[T]) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()
}
