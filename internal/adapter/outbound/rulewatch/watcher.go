// Package rulewatch watches a rule file on disk and hot-reloads the rule
// engine's active RuleSet when it changes, validating before swap so a bad
// edit never takes effect.
package rulewatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tapwire/gateway/internal/domain/rule"
)

// Engine is the subset of rule.Engine the watcher needs. Defined here
// (rather than imported as a concrete type) purely so tests can substitute
// a fake.
type Engine interface {
	Load(rs rule.RuleSet) error
}

// Watcher reloads a rule engine's RuleSet whenever its backing file
// changes on disk.
type Watcher struct {
	path   string
	engine Engine
	logger *slog.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once

	// debounce avoids reloading once per fsnotify event when editors
	// perform several writes (truncate+write+chmod) per save.
	debounce time.Duration
}

// New creates a Watcher for the rule file at path. Call Load once to seed
// the engine before Start begins watching for changes.
func New(path string, engine Engine, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, engine: engine, logger: logger, stop: make(chan struct{}), debounce: 100 * time.Millisecond}
}

// Load reads, parses, and loads the rule file once, synchronously. Call
// this before Start so the engine has an initial RuleSet.
func (w *Watcher) Load() error {
	rs, err := parseFile(w.path)
	if err != nil {
		return err
	}
	return w.engine.Load(rs)
}

// Start begins watching the rule file's directory (watching the directory,
// not the file, survives editors that replace the file via rename-on-save)
// and reloads on every relevant change until ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule file watcher: %w", err)
	}
	w.watcher = fw

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch rule file directory %q: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rule file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	rs, err := parseFile(w.path)
	if err != nil {
		w.logger.Error("rule file reload failed: parse error, keeping previous rule set", "path", w.path, "error", err)
		return
	}
	if err := w.engine.Load(rs); err != nil {
		w.logger.Error("rule file reload failed: validation error, keeping previous rule set", "path", w.path, "error", err)
		return
	}
	w.logger.Info("rule file reloaded", "path", w.path, "rules", len(rs.Rules))
}

// Stop halts the watch loop and waits for it to exit. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func parseFile(path string) (rule.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rule.RuleSet{}, fmt.Errorf("read rule file: %w", err)
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return rule.ParseYAML(data)
	}
	return rule.ParseJSON(data)
}
