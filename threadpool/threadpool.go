// Package threadpool implements a fixed-size worker pool polling a
// shared taskqueue.Queue. Its worker-count-from-GOMAXPROCS default and
// Stats-struct shape follow a runtime-stats convention; the scheduling
// loop itself is new. Each worker gets its own scratch arena.Arena,
// backed by a private heap.Heap it owns exclusively, exposed to task
// handlers through a goroutine-local TaskContext (timandy/routine), and
// cleared between tasks.
package threadpool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/timandy/routine"

	"github.com/moonsugar-systems/moonsugar/arena"
	"github.com/moonsugar-systems/moonsugar/errs"
	"github.com/moonsugar-systems/moonsugar/heap"
	"github.com/moonsugar-systems/moonsugar/taskqueue"
)

// DefaultPollInterval is the idle sleep a worker takes after finding
// the queue empty.
const DefaultPollInterval = 100 * time.Nanosecond

// DefaultScratchHeapSize is the per-worker reservation backing each
// worker's scratch arena.
const DefaultScratchHeapSize = 1 << 20

// DefaultScratchArenaBase is the scratch arena's base node size.
const DefaultScratchArenaBase = 4096

// DefaultQueueCapacity is the task queue's default power-of-two
// capacity.
const DefaultQueueCapacity = 1024

// Config configures a ThreadPool.
type Config struct {
	WorkerCount      int
	QueueCapacity    uintptr
	PollInterval     time.Duration
	ScratchHeapSize  uintptr
	ScratchArenaBase uintptr
	Logger           *logrus.Entry
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		WorkerCount:      runtime.GOMAXPROCS(0),
		QueueCapacity:    DefaultQueueCapacity,
		PollInterval:     DefaultPollInterval,
		ScratchHeapSize:  DefaultScratchHeapSize,
		ScratchArenaBase: DefaultScratchArenaBase,
	}
}

// WithWorkerCount overrides the number of workers; default is
// runtime.GOMAXPROCS(0).
func WithWorkerCount(n int) Option { return func(c *Config) { c.WorkerCount = n } }

// WithQueueCapacity overrides the task queue's power-of-two capacity.
func WithQueueCapacity(capacity uintptr) Option {
	return func(c *Config) { c.QueueCapacity = capacity }
}

// WithPollInterval overrides the idle sleep between empty-queue polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithScratchHeapSize overrides the per-worker scratch heap reservation.
func WithScratchHeapSize(size uintptr) Option {
	return func(c *Config) { c.ScratchHeapSize = size }
}

// WithLogger attaches a structured logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Config) { c.Logger = entry }
}

var workerContext = routine.NewThreadLocal[*TaskContext]()

// CurrentContext returns the calling worker goroutine's TaskContext, or
// nil outside a running task handler.
func CurrentContext() *TaskContext {
	return workerContext.Get()
}

type worker struct {
	index   int
	name    string
	heap    *heap.Heap
	scratch *arena.Arena
}

// Stats reports a ThreadPool's throughput counters.
type Stats struct {
	QueueDepth      uintptr
	TasksDispatched uint64
	TasksCompleted  uint64
	TasksDropped    uint64
}

// ThreadPool is a fixed number of workers draining a shared TaskQueue.
type ThreadPool struct {
	cfg      *Config
	queue    *taskqueue.Queue[Task]
	workers  []*worker
	wg       sync.WaitGroup
	mustJoin atomic.Bool

	dispatched atomic.Uint64
	completed  atomic.Uint64
	dropped    atomic.Uint64

	log *logrus.Entry
}

// New creates a ThreadPool and starts its workers immediately.
func New(opts ...Option) (*ThreadPool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.WorkerCount <= 0 {
		return nil, errs.New("threadpool.New", errs.InvalidArgument, fmt.Errorf("worker count must be positive, got %d", cfg.WorkerCount))
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "threadpool")
	}

	queue, err := taskqueue.New[Task](cfg.QueueCapacity)
	if err != nil {
		return nil, errs.New("threadpool.New", errs.InvalidArgument, err)
	}

	p := &ThreadPool{cfg: cfg, queue: queue, log: log}

	for i := 0; i < cfg.WorkerCount; i++ {
		w, err := p.newWorker(i)
		if err != nil {
			p.closeWorkers(p.workers)

			return nil, err
		}

		p.workers = append(p.workers, w)
	}

	for _, w := range p.workers {
		p.wg.Add(1)

		go p.workerLoop(w)
	}

	return p, nil
}

func (p *ThreadPool) newWorker(index int) (*worker, error) {
	name := fmt.Sprintf("moonsugar-worker-%02d-%s", index, uuid.New().String()[:8])

	h, err := heap.New(p.cfg.ScratchHeapSize, heap.WithLogger(p.log.WithField("worker", name)))
	if err != nil {
		return nil, errs.New("threadpool.newWorker", errs.Memory, err)
	}

	scratch, err := arena.New(h, p.cfg.ScratchArenaBase, arena.WithSticky(true), arena.WithLogger(p.log.WithField("worker", name)))
	if err != nil {
		h.Close()

		return nil, errs.New("threadpool.newWorker", errs.Memory, err)
	}

	return &worker{index: index, name: name, heap: h, scratch: scratch}, nil
}

func (p *ThreadPool) closeWorkers(workers []*worker) {
	for _, w := range workers {
		w.heap.Close()
	}
}

// Dispatch enqueues task immediately if it has no outstanding
// dependencies; otherwise it is left unenqueued and relies on its
// children's completions to trickle the count to zero. Safe for
// concurrent callers.
func (p *ThreadPool) Dispatch(task *Task) error {
	if task.UnsatisfiedDependencies() != 0 {
		return nil
	}

	if ok := p.queue.Enqueue(task); !ok {
		return errs.New("threadpool.Dispatch", errs.Full, fmt.Errorf("task queue is full"))
	}

	p.dispatched.Add(1)

	return nil
}

func (p *ThreadPool) workerLoop(w *worker) {
	defer p.wg.Done()

	for {
		if p.mustJoin.Load() {
			return
		}

		task, ok := p.queue.Dequeue()
		if !ok {
			time.Sleep(p.cfg.PollInterval)

			continue
		}

		if task.UnsatisfiedDependencies() != 0 {
			// A sibling still owes a decrement; it will re-enqueue this
			// task when it reaches zero. Dropping here (rather than
			// re-enqueuing) avoids spinning the queue on a task that
			// cannot yet make progress.
			p.dropped.Add(1)

			continue
		}

		w.scratch.Clear()

		ctx := &TaskContext{WorkerName: w.name, WorkerIndex: w.index, Scratch: w.scratch}
		workerContext.Set(ctx)

		task.Handler(ctx)

		p.completed.Add(1)

		if task.Parent != nil {
			if task.Parent.unsatisfiedDependencies.Add(-1) == 0 {
				if err := p.Dispatch(task.Parent); err != nil {
					p.log.WithError(err).Warn("failed to enqueue parent task after last child completed")
				}
			}
		}
	}
}

// Shutdown sets must_join and blocks until every worker has observed it
// and returned, then releases each worker's scratch heap.
func (p *ThreadPool) Shutdown() {
	p.mustJoin.Store(true)
	p.wg.Wait()
	p.closeWorkers(p.workers)
}

// Stats reports current throughput counters.
func (p *ThreadPool) Stats() Stats {
	return Stats{
		QueueDepth:      p.queue.Len(),
		TasksDispatched: p.dispatched.Load(),
		TasksCompleted:  p.completed.Load(),
		TasksDropped:    p.dropped.Load(),
	}
}

// Metrics returns Prometheus collectors reporting queue depth and
// completed/dropped task counts.
func (p *ThreadPool) Metrics(namespace string) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "threadpool",
			Name:      "queue_depth",
		}, func() float64 { return float64(p.Stats().QueueDepth) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "threadpool",
			Name:      "tasks_completed_total",
		}, func() float64 { return float64(p.Stats().TasksCompleted) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "threadpool",
			Name:      "tasks_dropped_total",
		}, func() float64 { return float64(p.Stats().TasksDropped) }),
	}
}
