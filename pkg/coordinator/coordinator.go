package coordinator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/gulfwatch/pkg/dom"
	"github.com/polisai/gulfwatch/pkg/filter"
	"github.com/polisai/gulfwatch/pkg/rewrite"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets the sink for sweep results.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithMaxPending bounds the mutation records queued between batches.
func WithMaxPending(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

// Coordinator applies the rule to a document and keeps it applied.
// All methods must run on the goroutine that owns the document.
type Coordinator struct {
	filter     *filter.Filter
	rule       *rewrite.Rule
	logger     *slog.Logger
	recorder   Recorder
	maxPending int

	state    State
	starting bool
	root     *dom.Node
	observer *dom.Observer
	stats    Stats
}

// New constructs a Coordinator. Nil filter and rule fall back to the
// build-time defaults.
func New(f *filter.Filter, rule *rewrite.Rule, opts ...Option) *Coordinator {
	if f == nil {
		f = filter.New(filter.DefaultExclusions())
	}
	if rule == nil {
		rule = rewrite.Default()
	}
	c := &Coordinator{
		filter:   f,
		rule:     rule,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the lifecycle state.
func (c *Coordinator) State() State { return c.state }

// Root returns the observed root, or nil before activation.
func (c *Coordinator) Root() *dom.Node { return c.root }

// Stats returns cumulative counters.
func (c *Coordinator) Stats() Stats { return c.stats }

// Start sweeps the document body and subscribes to its mutation feed. When
// the body does not exist yet, activation waits for ready; if the body is
// still missing then, the document element or the document node is used.
func (c *Coordinator) Start(doc *dom.Document, ready ReadySignal) error {
	if c.state != StateUninitialized || c.starting {
		return ErrAlreadyStarted
	}
	if doc == nil {
		return fmt.Errorf("coordinator: document is required")
	}

	if body := doc.Body(); body != nil {
		return c.activate(body)
	}
	if ready == nil {
		return c.activate(fallbackRoot(doc))
	}

	c.starting = true
	c.logger.Debug("document body not available, waiting for ready signal")
	err := ready.OnReady(func() {
		root := doc.Body()
		if root == nil {
			root = fallbackRoot(doc)
			c.logger.Warn("document ready without body, observing fallback root", "tag", root.Tag())
		}
		if err := c.activate(root); err != nil {
			c.logger.Error("coordinator activation failed", "error", err)
		}
	})
	if err != nil {
		c.starting = false
		return fmt.Errorf("coordinator: wait for ready: %w", err)
	}
	return nil
}

func fallbackRoot(doc *dom.Document) *dom.Node {
	if el := doc.DocumentElement(); el != nil {
		return el
	}
	return doc.Root()
}

func (c *Coordinator) activate(root *dom.Node) error {
	c.InitialSweep(root)

	observer, err := root.OwnerDocument().Observe(root, dom.ObserveOptions{
		ChildList:     true,
		CharacterData: true,
		Subtree:       true,
		MaxPending:    c.maxPending,
	}, c.HandleBatch)
	if err != nil {
		c.starting = false
		return fmt.Errorf("coordinator: observe root: %w", err)
	}

	c.root = root
	c.observer = observer
	c.state = StateActive
	c.starting = false
	c.logger.Debug("coordinator active", "root", root.Tag(), "rewritten", c.stats.Rewritten)
	return nil
}

// InitialSweep rewrites every eligible text unit under root and returns how
// many were written.
func (c *Coordinator) InitialSweep(root *dom.Node) int {
	return c.sweep(root, SourceInitial).Rewritten
}

// OnNodesAdded sweeps each added node as its own root. Nodes that have
// since left the observed tree are skipped.
func (c *Coordinator) OnNodesAdded(nodes []*dom.Node) int {
	written := 0
	for _, n := range nodes {
		if n == nil || (c.root != nil && !c.root.Contains(n)) {
			continue
		}
		written += c.sweep(n, SourceAdded).Rewritten
	}
	return written
}

// OnTextChanged rewrites exactly unit and reports whether it was written.
func (c *Coordinator) OnTextChanged(unit *dom.Node) bool {
	if unit == nil || unit.Type() != dom.TextNode {
		return false
	}
	started := time.Now()
	result := SweepResult{Source: SourceText, Scanned: 1}
	switch {
	case c.filter.IsExcluded(unit):
		result.Excluded = 1
	case c.apply(unit):
		result.Rewritten = 1
	}
	result.Duration = time.Since(started)
	c.account(result)
	return result.Rewritten == 1
}

// HandleBatch is the mutation feed callback. Records are handled in
// delivery order. A panic is recovered so later batches are still handled.
func (c *Coordinator) HandleBatch(batch dom.Batch) {
	c.stats.Batches++
	defer func() {
		if r := recover(); r != nil {
			c.stats.Failures++
			c.logger.Error("mutation batch failed", "panic", r, "records", batch.Len())
		}
	}()

	if batch.Overflow {
		c.stats.Resweeps++
		c.logger.Warn("mutation queue overflowed, resweeping root", "records", batch.Len())
		c.sweep(c.root, SourceResweep)
		return
	}

	for _, rec := range batch.Records {
		switch rec.Type {
		case dom.ChildList:
			if len(rec.Added) > 0 {
				c.OnNodesAdded(rec.Added)
			}
		case dom.CharacterData:
			c.OnTextChanged(rec.Target)
		}
	}
}

func (c *Coordinator) sweep(root *dom.Node, source Source) SweepResult {
	started := time.Now()
	result := SweepResult{Source: source}
	if root == nil {
		return result
	}

	if root.Type() == dom.ElementNode && c.filter.IsExcluded(root) {
		result.Excluded = 1
		result.Duration = time.Since(started)
		c.account(result)
		return result
	}

	units := collectTextUnits(root)
	result.Scanned = len(units)
	for _, unit := range units {
		if c.filter.IsExcluded(unit) {
			result.Excluded++
			continue
		}
		if c.apply(unit) {
			result.Rewritten++
		}
	}

	result.Duration = time.Since(started)
	c.account(result)
	return result
}

// apply writes the rewritten value back only when it differs.
func (c *Coordinator) apply(unit *dom.Node) bool {
	current := unit.Data()
	next := c.rule.Rewrite(current)
	if next == current {
		return false
	}
	if err := unit.OwnerDocument().SetData(unit, next); err != nil {
		c.logger.Warn("text unit write failed", "error", err)
		return false
	}
	return true
}

func (c *Coordinator) account(result SweepResult) {
	c.stats.Scanned += result.Scanned
	c.stats.Excluded += result.Excluded
	c.stats.Rewritten += result.Rewritten
	c.recorder.RecordSweep(result)
}
