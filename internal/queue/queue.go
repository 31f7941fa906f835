package queue

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"habitat/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Job asks for one listing to be refreshed in the search index. A nil
// Property removes the listing.
type Job struct {
	PropertyID int64
	Property   *models.Property
}

// IndexQueue is an in-memory queue of index job batches.
type IndexQueue struct {
	items   chan []Job
	done    chan struct{}
	maxSize int
	closed  bool
	mu      sync.RWMutex
	logger  *logrus.Logger

	// handlers has its own lock so a blocked PushWait never stalls the consumer.
	hmu      sync.RWMutex
	handlers []func([]Job) error
}

// NewIndexQueue creates a queue that buffers up to bufferSize batches.
func NewIndexQueue(bufferSize int, logger *logrus.Logger) *IndexQueue {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &IndexQueue{
		items:    make(chan []Job, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func([]Job) error, 0),
	}
}

// Push adds a batch without blocking.
func (q *IndexQueue) Push(jobs []Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- jobs:
		q.logger.WithField("batch_size", len(jobs)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// PushWait adds a batch, waiting for room until ctx is done.
func (q *IndexQueue) PushWait(ctx context.Context, jobs []Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- jobs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds a handler that is called for each batch.
func (q *IndexQueue) Subscribe(handler func([]Job) error) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins processing batches in the background.
func (q *IndexQueue) Start() {
	go q.process()
}

func (q *IndexQueue) process() {
	defer close(q.done)
	for batch := range q.items {
		q.processBatch(batch)
	}
}

func (q *IndexQueue) processBatch(batch []Job) {
	q.hmu.RLock()
	handlers := q.handlers
	q.hmu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).Error("Handler failed to process batch")
		}
	}
}

// Close stops accepting batches. Batches already queued are still handled
// and Done is closed once they are.
func (q *IndexQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.items)
	return nil
}

// Done is closed when a started queue has drained after Close.
func (q *IndexQueue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of batches waiting.
func (q *IndexQueue) Len() int {
	return len(q.items)
}

func (q *IndexQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
