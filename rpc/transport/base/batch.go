package base

import (
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"sync"
)

// BatchQueue collects the serialized batch requests of one connection until
// they are flushed. Appending, the threshold check and flush-and-clear all run
// under one mutex, so a flush never observes a half written queue and
// concurrent enqueues can not slip past the threshold check.
type BatchQueue struct {
	mu            sync.Mutex
	requests      [][]byte
	size          int // sum of the sizes of all queued requests
	autoFlushSize int // <= 0 disables auto-flush
	closed        bool
	closeErr      error

	// flush writes the given requests as a single frame
	flush func(requests [][]byte) error
}

// NewBatchQueue creates a queue that hands flushed requests to flush
func NewBatchQueue(autoFlushSize int, flush func(requests [][]byte) error) *BatchQueue {
	return &BatchQueue{
		autoFlushSize: autoFlushSize,
		flush:         flush,
	}
}

// --------------------------------------------------------------------------
// Queue operations
// --------------------------------------------------------------------------

// Enqueue appends a request. If the queued size exceeds the auto-flush
// threshold afterwards, all queued requests including this one are flushed
// before Enqueue returns.
func (q *BatchQueue) Enqueue(request []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return q.closeErr
	}

	q.requests = append(q.requests, request)
	q.size += len(request)

	if q.autoFlushSize > 0 && q.size > q.autoFlushSize {
		batchAutoFlushes.Inc()
		return q.flushLocked()
	}
	return nil
}

// Flush writes all queued requests as one frame. Flushing an empty queue
// writes nothing and reports success.
func (q *BatchQueue) Flush() (transport.FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return transport.NewFlushResult(true, true, true), nil
	}

	batchExplicitFlushes.Inc()
	if err := q.flushLocked(); err != nil {
		return transport.NewFlushResult(true, false, false), err
	}
	return transport.NewFlushResult(true, true, true), nil
}

// Discard drops all queued requests and rejects further enqueues with err.
// It returns the number of dropped requests.
func (q *BatchQueue) Discard(err error) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.requests)
	q.requests = nil
	q.size = 0
	q.closed = true
	q.closeErr = err
	return n
}

// Len returns the number of queued requests
func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Size returns the number of queued bytes
func (q *BatchQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// flushLocked hands the queue to the flush func and clears it, the caller must hold q.mu.
// The queue is cleared even if the write fails, a failed write closes the connection.
func (q *BatchQueue) flushLocked() error {
	if len(q.requests) == 0 {
		return nil
	}

	requests := q.requests
	q.requests = nil
	q.size = 0

	batchRequests.Add(len(requests))
	return q.flush(requests)
}
