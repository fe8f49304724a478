package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Dispatcher runs jobs on a fixed set of workers. Jobs with the same key always
// land on the same worker and run in submission order; different keys spread
// across workers.
type Dispatcher struct {
	queues []chan func()
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{queues: make([]chan func(), workers)}
	for i := range d.queues {
		q := make(chan func(), queueSize)
		d.queues[i] = q
		d.wg.Add(1)
		go d.run(i, q)
	}
	return d
}

func (d *Dispatcher) run(worker int, q <-chan func()) {
	defer d.wg.Done()
	for job := range q {
		runSafely(worker, job)
	}
}

func runSafely(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingest job panicked", "worker", worker, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	job()
}

// Submit queues job behind earlier jobs with the same key. It blocks while that
// worker's queue is full, until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, key string, job func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	q := d.queues[d.shard(key)]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.queues)))
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
