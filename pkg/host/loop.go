// Package host runs live documents on a single-threaded event loop.
//
// A Loop owns one dom.Document. Tasks run one at a time on the loop
// goroutine; after each task the loop runs mutation checkpoints so observers
// see the task's changes after the fact, in batches, before the next task
// starts. Mutations made by observer callbacks are delivered in further
// checkpoint rounds of the same turn.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/polisai/gulfwatch/pkg/dom"
)

const (
	defaultQueueSize = 64
	defaultMaxRounds = 16
)

var (
	// ErrQueueFull indicates the task queue is at capacity.
	ErrQueueFull = errors.New("host: task queue is full")
	// ErrClosed indicates the loop has stopped.
	ErrClosed = errors.New("host: loop is closed")
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("host: loop is already running")
	// ErrTaskPanic indicates a task passed to Do panicked.
	ErrTaskPanic = errors.New("host: task panicked")
)

// Task is a unit of work executed on the loop goroutine.
type Task func(doc *dom.Document)

type envelope struct {
	task     Task
	finished chan struct{}
	panicked *any
}

// Option configures a Loop.
type Option func(*Loop)

// WithQueueSize sets the task queue capacity.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithMaxRounds bounds checkpoint rounds per turn.
func WithMaxRounds(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loop is a single-goroutine task runner for a document.
type Loop struct {
	doc       *dom.Document
	logger    *slog.Logger
	queueSize int
	maxRounds int
	tasks     chan envelope

	mu     sync.Mutex
	closed bool

	running atomic.Bool
	done    chan struct{}

	// Owned by the loop goroutine.
	ready    bool
	readyFns []func()
}

// New constructs a Loop for doc. Run must be called to start processing.
func New(doc *dom.Document, opts ...Option) *Loop {
	l := &Loop{
		doc:       doc,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
		maxRounds: defaultMaxRounds,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.tasks = make(chan envelope, l.queueSize)
	return l
}

// Document returns the loop's document. It must only be used from tasks.
func (l *Loop) Document() *dom.Document { return l.doc }

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run processes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-l.tasks:
			l.turn(env)
		}
	}
}

// Post queues task without blocking.
func (l *Loop) Post(task Task) error {
	if task == nil {
		return nil
	}
	return l.enqueue(envelope{task: task})
}

// Do runs task on the loop and waits until it and the checkpoints it
// triggers have completed. Do must not be called from a task.
func (l *Loop) Do(ctx context.Context, task Task) error {
	env := envelope{task: task, finished: make(chan struct{}), panicked: new(any)}
	if err := l.enqueue(env); err != nil {
		return err
	}

	select {
	case <-env.finished:
		if *env.panicked != nil {
			return fmt.Errorf("%w: %v", ErrTaskPanic, *env.panicked)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

func (l *Loop) enqueue(env envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.tasks <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// MarkReady signals that the document has finished loading. Callbacks
// registered with OnReady run on the loop in registration order.
func (l *Loop) MarkReady() error {
	return l.Post(func(*dom.Document) {
		if l.ready {
			return
		}
		l.ready = true
		fns := l.readyFns
		l.readyFns = nil
		for _, fn := range fns {
			fn()
		}
	})
}

// Ready reports whether MarkReady has taken effect. It must only be used from tasks.
func (l *Loop) Ready() bool { return l.ready }

// OnReady registers fn to run once the document is ready. When the document
// is already ready fn runs on the next turn; if that turn cannot be queued
// the error is returned and fn will not run. It must only be used from tasks.
func (l *Loop) OnReady(fn func()) error {
	if fn == nil {
		return nil
	}
	if l.ready {
		if err := l.Post(func(*dom.Document) { fn() }); err != nil {
			return fmt.Errorf("host: schedule ready callback: %w", err)
		}
		return nil
	}
	l.readyFns = append(l.readyFns, fn)
	return nil
}

func (l *Loop) turn(env envelope) {
	if env.finished != nil {
		defer close(env.finished)
	}
	l.safely("task", func() {
		defer func() {
			if r := recover(); r != nil {
				if env.panicked != nil {
					*env.panicked = r
				}
				panic(r)
			}
		}()
		env.task(l.doc)
	})

	for round := 0; round < l.maxRounds; round++ {
		delivered := true
		l.safely("checkpoint", func() { delivered = l.doc.Checkpoint() })
		if !delivered {
			return
		}
	}
	if l.doc.Pending() {
		l.logger.Warn("mutation checkpoint limit reached, deferring records", "rounds", l.maxRounds)
	}
}

func (l *Loop) safely(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recovered panic on host loop", "stage", stage, "panic", r)
		}
	}()
	fn()
}
