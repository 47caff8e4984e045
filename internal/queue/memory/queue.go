// Package memory provides the bounded in-process crawl queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kruyneg/information-retrieval/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO with context-aware operations. Enqueue blocks while
// the queue holds capacity items.
type Queue struct {
	ch      chan crawler.CrawlItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawler.CrawlItem, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.CrawlItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlItem, error) {
	select {
	case <-ctx.Done():
		return crawler.CrawlItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawler.CrawlItem{}, ErrClosed
		}
		return item, nil
	}
}

// TryDequeue pops the next item without blocking.
func (q *Queue) TryDequeue() (crawler.CrawlItem, bool) {
	select {
	case item, ok := <-q.ch:
		if !ok {
			return crawler.CrawlItem{}, false
		}
		return item, true
	default:
		return crawler.CrawlItem{}, false
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue bound.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close closes the underlying channel. Only call it once no producer can
// enqueue any more.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
