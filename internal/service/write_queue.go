package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"

	"github.com/sirupsen/logrus"
)

// WriteFunc is one serialized write against the local store
type WriteFunc func(ctx context.Context) error

// WriteQueue runs writes for the same conversation one at a time, in
// submission order. Each active conversation gets its own worker with a
// bounded buffer; idle workers exit.
type WriteQueue struct {
	depth       int
	idleTimeout time.Duration
	metrics     *metrics.Registry
	logger      *logrus.Logger

	mu      sync.Mutex
	workers map[string]*queueWorker
	closed  bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

type queueWorker struct {
	key     string
	jobs    chan *writeJob
	stopped chan struct{} // closed when run returns
	pending int           // guarded by WriteQueue.mu
}

type writeJob struct {
	ctx  context.Context
	fn   WriteFunc
	done chan error
}

// NewWriteQueue creates a queue. Zero values fall back to defaults.
func NewWriteQueue(depth int, idleTimeout time.Duration, registry *metrics.Registry, logger *logrus.Logger) *WriteQueue {
	if depth <= 0 {
		depth = constants.DefaultWriteQueueDepth
	}
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultQueueIdleTimeoutMs * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &WriteQueue{
		depth:       depth,
		idleTimeout: idleTimeout,
		metrics:     registry,
		logger:      logger,
		workers:     make(map[string]*queueWorker),
		quit:        make(chan struct{}),
	}
}

// Submit enqueues fn on the worker for key and blocks until fn ran or ctx
// is done. A job whose context ended while queued is not run.
func (q *WriteQueue) Submit(ctx context.Context, key string, fn WriteFunc) error {
	if key == "" {
		return apperrors.NewMalformedInputError("conversation_id", "write queue key is empty")
	}

	worker, err := q.acquire(key)
	if err != nil {
		return err
	}

	return q.enqueue(ctx, worker, &writeJob{ctx: ctx, fn: fn, done: make(chan error, 1)})
}

// enqueue hands job to worker and waits for its result. A job that reaches
// the buffer after the worker stopped is answered with errQueueClosed.
func (q *WriteQueue) enqueue(ctx context.Context, worker *queueWorker, job *writeJob) error {
	select {
	case worker.jobs <- job:
	case <-ctx.Done():
		q.release(worker)
		return apperrors.FromCtxErr(ctx.Err(), "write queue submit")
	case <-q.quit:
		q.release(worker)
		return errQueueClosed
	}

	select {
	case err := <-job.done:
		return err
	case <-worker.stopped:
		select {
		case err := <-job.done:
			return err
		default:
			return errQueueClosed
		}
	case <-ctx.Done():
		return apperrors.FromCtxErr(ctx.Err(), "write queue wait")
	}
}

var errQueueClosed = apperrors.New(apperrors.ErrCodeInternalError, "write queue is closed")

// Workers returns the number of live workers
func (q *WriteQueue) Workers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close stops every worker after its queued jobs ran
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *WriteQueue) acquire(key string) (*queueWorker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, errQueueClosed
	}

	worker, ok := q.workers[key]
	if !ok {
		worker = &queueWorker{key: key, jobs: make(chan *writeJob, q.depth), stopped: make(chan struct{})}
		q.workers[key] = worker
		q.wg.Add(1)
		go q.run(worker)
		q.metrics.SetGauge(metrics.WriteQueueWorkers, float64(len(q.workers)), nil, "Live write queue workers")
	}
	worker.pending++
	return worker, nil
}

func (q *WriteQueue) release(worker *queueWorker) {
	q.mu.Lock()
	worker.pending--
	q.mu.Unlock()
}

func (q *WriteQueue) run(worker *queueWorker) {
	defer q.wg.Done()
	defer close(worker.stopped)

	idle := time.NewTimer(q.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case job := <-worker.jobs:
			q.execute(job)
			q.release(worker)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.idleTimeout)
		case <-idle.C:
			if q.retire(worker) {
				return
			}
			idle.Reset(q.idleTimeout)
		case <-q.quit:
			q.drain(worker)
			q.retire(worker)
			return
		}
	}
}

// retire removes an idle worker unless a submitter still holds it
func (q *WriteQueue) retire(worker *queueWorker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if worker.pending > 0 && !q.closed {
		return false
	}
	if q.workers[worker.key] == worker {
		delete(q.workers, worker.key)
	}
	q.metrics.SetGauge(metrics.WriteQueueWorkers, float64(len(q.workers)), nil, "Live write queue workers")
	return true
}

func (q *WriteQueue) drain(worker *queueWorker) {
	for {
		select {
		case job := <-worker.jobs:
			q.execute(job)
			q.release(worker)
		default:
			return
		}
	}
}

func (q *WriteQueue) execute(job *writeJob) {
	if err := job.ctx.Err(); err != nil {
		job.done <- apperrors.FromCtxErr(err, "queued write")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.WithField("panic", r).Error("Write queue job panicked")
			job.done <- apperrors.New(apperrors.ErrCodeInternalError, "write panicked")
		}
	}()
	job.done <- job.fn(job.ctx)
}
