// Package watch keeps a rewritten copy of an HTML file in step with its source.
//
// The source is parsed once into a live session. Later edits are applied to
// the live document as a patch, so the coordinator only revisits the text
// that changed in the source.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/gulfwatch/pkg/coordinator"
	"github.com/polisai/gulfwatch/pkg/dom"
	"github.com/polisai/gulfwatch/pkg/session"
)

// DefaultDebounce is the quiet period after the last write event before the
// input is reloaded.
const DefaultDebounce = 100 * time.Millisecond

// ErrNoPaths is returned when the input or output path is missing.
var ErrNoPaths = errors.New("watch: input and output paths are required")

// Options configures a Watcher.
type Options struct {
	Input    string
	Output   string
	Debounce time.Duration
	Session  session.Options
	Logger   *slog.Logger
}

// Watcher mirrors Input into Output with the phrase rewritten.
type Watcher struct {
	input    string
	output   string
	debounce time.Duration
	sessOpts session.Options
	logger   *slog.Logger

	mu   sync.Mutex
	sess *session.Session
	prev *dom.Document
	last []byte

	reloaded chan struct{}
}

// New validates opts and returns an idle Watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Input == "" || opts.Output == "" {
		return nil, ErrNoPaths
	}
	input, err := filepath.Abs(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve input: %w", err)
	}
	output, err := filepath.Abs(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve output: %w", err)
	}
	if input == output {
		return nil, fmt.Errorf("watch: output %s would overwrite input", output)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessOpts := opts.Session
	if sessOpts.Logger == nil {
		sessOpts.Logger = logger
	}

	return &Watcher{
		input:    filepath.Clean(input),
		output:   filepath.Clean(output),
		debounce: debounce,
		sessOpts: sessOpts,
		logger:   logger.With("input", input, "output", output),
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded receives a value after every successful reload.
func (w *Watcher) Reloaded() <-chan struct{} { return w.reloaded }

// Run loads the input, writes the output and then follows changes to the
// input until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fw.Close()
	defer w.Close()

	// Editors often replace the file, so watch the directory.
	if err := fw.Add(filepath.Dir(w.input)); err != nil {
		return fmt.Errorf("watch: add %s: %w", filepath.Dir(w.input), err)
	}

	if err := w.Reload(ctx); err != nil {
		return err
	}
	w.logger.Info("watching input")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.input {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Error("reload failed", "error", err)
				continue
			}
			w.logger.Info("input reloaded")
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Reload reads the input and brings the output up to date.
func (w *Watcher) Reload(ctx context.Context) error {
	// #nosec G304 -- input path is configured at startup
	data, err := os.ReadFile(w.input)
	if err != nil {
		return fmt.Errorf("watch: read input: %w", err)
	}
	fresh, err := dom.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("watch: parse input: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sess == nil {
		if err := w.open(ctx, data); err != nil {
			return err
		}
	} else {
		prev := w.prev
		err := w.sess.Update(ctx, func(doc *dom.Document) error {
			return doc.Reconcile(doc.Root(), prev.Root(), fresh.Root())
		})
		if errors.Is(err, dom.ErrShapeMismatch) {
			w.logger.Warn("live document diverged, reopening")
			w.sess.Close()
			w.sess = nil
			err = w.open(ctx, data)
		}
		if err != nil {
			return err
		}
	}
	w.prev = fresh

	var buf bytes.Buffer
	if err := w.sess.Render(ctx, &buf); err != nil {
		return err
	}
	if !bytes.Equal(buf.Bytes(), w.last) {
		if err := writeFile(w.output, buf.Bytes()); err != nil {
			return err
		}
		w.last = buf.Bytes()
	}

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns the counters of the live session.
func (w *Watcher) Stats(ctx context.Context) (coordinator.Stats, error) {
	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess == nil {
		return coordinator.Stats{}, nil
	}
	return sess.Stats(ctx)
}

// Close releases the live session.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess != nil {
		w.sess.Close()
		w.sess = nil
	}
	w.prev = nil
	w.last = nil
}

func (w *Watcher) open(ctx context.Context, data []byte) error {
	sess, err := session.Open(ctx, bytes.NewReader(data), w.sessOpts)
	if err != nil {
		return fmt.Errorf("watch: open session: %w", err)
	}
	w.sess = sess
	w.last = nil
	return nil
}

// writeFile replaces path atomically so readers never see a partial file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("watch: write output: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("watch: write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("watch: write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("watch: write output: %w", err)
	}
	return nil
}
