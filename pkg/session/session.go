// Package session binds a live document, its host loop and a coordinator.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/gulfwatch/pkg/coordinator"
	"github.com/polisai/gulfwatch/pkg/dom"
	"github.com/polisai/gulfwatch/pkg/filter"
	"github.com/polisai/gulfwatch/pkg/host"
	"github.com/polisai/gulfwatch/pkg/rewrite"
	"github.com/polisai/gulfwatch/pkg/telemetry"
)

// Options configures a Session. Zero values select the build-time defaults.
type Options struct {
	Filter     *filter.Filter
	Rule       *rewrite.Rule
	Logger     *slog.Logger
	Recorder   coordinator.Recorder
	QueueSize  int
	MaxRounds  int
	MaxPending int
}

// Session is a live document kept rewritten by a coordinator.
type Session struct {
	id     string
	loop   *host.Loop
	coord  *coordinator.Coordinator
	logger *slog.Logger
	tracer trace.Tracer

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New starts a host loop for doc. The coordinator is not started until Start.
func New(doc *dom.Document, opts Options) *Session {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	recorder := opts.Recorder
	if recorder == nil {
		recorder = telemetry.NewSweepRecorder(context.Background())
	}

	loop := host.New(doc,
		host.WithLogger(logger),
		host.WithQueueSize(opts.QueueSize),
		host.WithMaxRounds(opts.MaxRounds),
	)
	coord := coordinator.New(opts.Filter, opts.Rule,
		coordinator.WithLogger(logger),
		coordinator.WithRecorder(recorder),
		coordinator.WithMaxPending(opts.MaxPending),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = loop.Run(ctx)
	}()

	return &Session{
		id:     id,
		loop:   loop,
		coord:  coord,
		logger: logger,
		tracer: telemetry.Tracer(),
		cancel: cancel,
	}
}

// Open parses an HTML document and returns an active session over it.
func Open(ctx context.Context, r io.Reader, opts Options) (*Session, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return nil, err
	}

	s := New(doc, opts)
	ctx, span := s.tracer.Start(ctx, "session.open", trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	if err := s.Start(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Close()
		return nil, err
	}
	if err := s.MarkReady(); err != nil {
		s.Close()
		return nil, fmt.Errorf("session: mark ready: %w", err)
	}

	stats, err := s.Stats(ctx)
	if err == nil {
		span.SetAttributes(
			attribute.Int("units.scanned", stats.Scanned),
			attribute.Int("units.rewritten", stats.Rewritten),
		)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start activates the coordinator on the loop.
func (s *Session) Start(ctx context.Context) error {
	var startErr error
	if err := s.loop.Do(ctx, func(doc *dom.Document) {
		startErr = s.coord.Start(doc, s.loop)
	}); err != nil {
		return fmt.Errorf("session: start: %w", err)
	}
	if startErr != nil {
		return fmt.Errorf("session: start: %w", startErr)
	}
	return nil
}

// MarkReady signals that the document has finished loading.
func (s *Session) MarkReady() error {
	return s.loop.MarkReady()
}

// Update runs fn on the loop and returns once the coordinator has handled
// the mutations fn made.
func (s *Session) Update(ctx context.Context, fn func(doc *dom.Document) error) error {
	ctx, span := s.tracer.Start(ctx, "session.update", trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	var fnErr error
	if err := s.loop.Do(ctx, func(doc *dom.Document) {
		fnErr = fn(doc)
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: update: %w", err)
	}
	if fnErr != nil {
		span.RecordError(fnErr)
		span.SetStatus(codes.Error, fnErr.Error())
	}
	return fnErr
}

// Render writes the current document as HTML.
func (s *Session) Render(ctx context.Context, w io.Writer) error {
	var buf bytes.Buffer
	var renderErr error
	if err := s.loop.Do(ctx, func(doc *dom.Document) {
		renderErr = doc.Render(&buf)
	}); err != nil {
		return fmt.Errorf("session: render: %w", err)
	}
	if renderErr != nil {
		return renderErr
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Text returns the text content of the observed root.
func (s *Session) Text(ctx context.Context) (string, error) {
	var text string
	err := s.loop.Do(ctx, func(doc *dom.Document) {
		root := s.coord.Root()
		if root == nil {
			root = doc.Root()
		}
		text = root.TextContent()
	})
	return text, err
}

// Stats returns the coordinator counters.
func (s *Session) Stats(ctx context.Context) (coordinator.Stats, error) {
	var stats coordinator.Stats
	err := s.loop.Do(ctx, func(*dom.Document) {
		stats = s.coord.Stats()
	})
	return stats, err
}

// State returns the coordinator lifecycle state.
func (s *Session) State(ctx context.Context) (coordinator.State, error) {
	var state coordinator.State
	err := s.loop.Do(ctx, func(*dom.Document) {
		state = s.coord.State()
	})
	return state, err
}

// Close stops the loop. The document is left as it is.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.loop.Done()
		s.logger.Debug("session closed")
	})
}

// RewriteHTML parses r, rewrites it and renders the result to w.
func RewriteHTML(ctx context.Context, r io.Reader, w io.Writer, opts Options) (coordinator.Stats, error) {
	s, err := Open(ctx, r, opts)
	if err != nil {
		return coordinator.Stats{}, err
	}
	defer s.Close()

	stats, err := s.Stats(ctx)
	if err != nil {
		return coordinator.Stats{}, err
	}
	if err := s.Render(ctx, w); err != nil {
		return stats, err
	}
	return stats, nil
}
