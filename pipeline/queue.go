package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chazu/tiercomp/cpool"
)

var (
	// ErrQueueFull is returned when a request is dropped because the queue
	// has no room.
	ErrQueueFull = errors.New("pipeline: compile queue full")
	// ErrQueueStopped is returned for requests enqueued after Stop.
	ErrQueueStopped = errors.New("pipeline: compile queue stopped")
	// ErrCycle is returned when a request appears among its own ancestors.
	ErrCycle = errors.New("pipeline: dependent compilation cycle")
)

// Queue compiles requests on background workers. Requests for a method
// that is already queued or compiled are ignored. A compilation that needs
// another method compiled enqueues a dependent request with Parent set
// rather than compiling it on its own call stack.
type Queue struct {
	compiler *Compiler
	ctx      context.Context
	cancel   context.CancelFunc

	pending chan *Request
	workers sync.WaitGroup
	active  sync.WaitGroup // requests accepted but not yet finished

	mu      sync.RWMutex
	seen    map[string]bool
	results map[string]*Result
	stopped bool

	// Statistics
	compiled atomic.Uint64
	cached   atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
	elapsed  atomic.Int64 // nanoseconds

	// OnResult, if set before the first Enqueue, is called from a worker
	// after each request finishes.
	OnResult func(*Result)
}

// NewQueue starts workers background compilers reading from a queue of
// the given capacity.
func NewQueue(c *Compiler, workers, capacity int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		compiler: c,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(chan *Request, capacity),
		seen:     make(map[string]bool),
		results:  make(map[string]*Result),
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.compilationWorker()
	}
	return q
}

// Enqueue schedules req. It reports whether the request was accepted; a
// request for a method already seen is not an error and returns false.
func (q *Queue) Enqueue(req *Request) (bool, error) {
	key := req.Key()
	for p := req.Parent; p != nil; p = p.Parent {
		if p.Key() == key {
			return false, fmt.Errorf("%w: %s", ErrCycle, chain(req))
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false, ErrQueueStopped
	}
	if q.seen[key] {
		return false, nil
	}
	q.active.Add(1)
	select {
	case q.pending <- req:
		q.seen[key] = true
		return true, nil
	default:
		q.active.Done()
		q.dropped.Add(1)
		return false, ErrQueueFull
	}
}

// chain renders the ancestry of req, oldest first.
func chain(req *Request) string {
	var keys []string
	for r := req; r != nil; r = r.Parent {
		keys = append(keys, r.Key())
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return strings.Join(keys, " -> ")
}

// compilationWorker processes the queue until Stop.
func (q *Queue) compilationWorker() {
	defer q.workers.Done()
	for {
		select {
		case req := <-q.pending:
			q.process(req)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(req *Request) {
	defer q.active.Done()
	res, err := q.compiler.Compile(q.ctx, req)
	switch {
	case err != nil:
		q.failed.Add(1)
		log.Warningf("compile %s (%s): %s", req.Key(), req.ID, err)
	case res.Cached:
		q.cached.Add(1)
	default:
		q.compiled.Add(1)
	}
	q.elapsed.Add(int64(res.Elapsed))

	q.mu.Lock()
	q.results[req.Key()] = res
	q.mu.Unlock()

	if q.OnResult != nil {
		q.OnResult(res)
	}
}

// WatchLoader enqueues the requests returned by requests for every class
// the loader defines from now on.
func (q *Queue) WatchLoader(loader *cpool.Loader, requests func(c *cpool.Class) []*Request) {
	loader.OnLoad(func(c *cpool.Class) {
		for _, req := range requests(c) {
			if _, err := q.Enqueue(req); err != nil {
				log.Warningf("enqueue %s after loading %s: %s", req.Key(), c.Name, err)
			}
		}
	})
}

// Drain blocks until every accepted request has finished.
func (q *Queue) Drain() {
	q.active.Wait()
}

// Result returns the result for a method key.
func (q *Queue) Result(key string) (*Result, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r, ok := q.results[key]
	return r, ok
}

// Results returns all results, ordered by method key.
func (q *Queue) Results() []*Result {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*Result, 0, len(q.results))
	for _, r := range q.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Request.Key() < out[j].Request.Key() })
	return out
}

// QueueStats holds compile queue statistics.
type QueueStats struct {
	Compiled    uint64
	Cached      uint64
	Failed      uint64
	Dropped     uint64
	ElapsedNs   int64
	QueueLength int
}

// Stats returns compile queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Compiled:    q.compiled.Load(),
		Cached:      q.cached.Load(),
		Failed:      q.failed.Load(),
		Dropped:     q.dropped.Load(),
		ElapsedNs:   q.elapsed.Load(),
		QueueLength: len(q.pending),
	}
}

// Stop stops the workers. Requests still queued are discarded and Drain
// returns once the in-flight ones finish. Stop is idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.workers.Wait()
	for {
		select {
		case <-q.pending:
			q.active.Done()
		default:
			return
		}
	}
}
