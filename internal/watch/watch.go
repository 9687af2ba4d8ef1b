// Package watch uploads photos as they appear in a directory. Files are
// uploaded one at a time once they have stopped changing for a settle delay.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults applied when Config fields are zero.
const (
	DefaultSettleDelay = 2 * time.Second
	minSettleTick      = 10 * time.Millisecond
)

// DefaultExtensions are the photo types picked up when none are configured.
var DefaultExtensions = []string{".heic", ".jpg", ".jpeg"}

// FsWatcher abstracts fsnotify.Watcher for testability.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWrapper{w: w}, nil
}

// Uploader publishes one image. Satisfied by *upload.Uploader.
type Uploader interface {
	UploadFrom(ctx context.Context, source string, image []byte, developInDays int) (string, error)
}

// History reports whether a file was already published. Satisfied by
// *ledger.Store.
type History interface {
	Uploaded(ctx context.Context, source string) (bool, error)
}

// Config selects what is watched.
type Config struct {
	Dir           string
	Extensions    []string
	DevelopInDays int
	SettleDelay   time.Duration
}

// Result is reported for every attempted file.
type Result struct {
	Path    string
	MediaID string
	Err     error
}

// Watcher feeds new files in a directory to an Uploader.
type Watcher struct {
	cfg      Config
	uploader Uploader
	history  History
	logger   *slog.Logger

	// OnResult, if set, is called after every upload attempt.
	OnResult func(Result)

	newWatcher func() (FsWatcher, error)
	readFile   func(string) ([]byte, error)
	now        func() time.Time
}

// New creates a Watcher. history may be nil.
func New(cfg Config, uploader Uploader, history History, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}

	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts = append(exts, normalizeExt(e))
	}

	cfg.Extensions = exts

	return &Watcher{
		cfg:        cfg,
		uploader:   uploader,
		history:    history,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		readFile:   os.ReadFile,
		now:        time.Now,
	}
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}

	return e
}

// Matches reports whether path has one of the watched extensions.
func (w *Watcher) Matches(path string) bool {
	return slices.Contains(w.cfg.Extensions, strings.ToLower(filepath.Ext(path)))
}

// Run watches until ctx is canceled. Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", w.cfg.Dir)
	}

	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch: adding %s: %w", w.cfg.Dir, err)
	}

	w.logger.Info("watching for new photos",
		slog.String("dir", w.cfg.Dir),
		slog.String("extensions", strings.Join(w.cfg.Extensions, ",")),
		slog.Duration("settle_delay", w.cfg.SettleDelay),
	)

	return w.loop(ctx, fw)
}

func (w *Watcher) loop(ctx context.Context, fw FsWatcher) error {
	tick := max(w.cfg.SettleDelay/2, minSettleTick)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// pending maps a path to the time it was last seen changing.
	pending := make(map[string]time.Time)
	done := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ev, pending, done)

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", watchErr.Error()))

		case <-ticker.C:
			w.flush(ctx, pending, done)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event, pending map[string]time.Time, done map[string]bool) {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		delete(pending, ev.Name)
		return
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if !w.Matches(ev.Name) || strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}

	if done[ev.Name] {
		return
	}

	pending[ev.Name] = w.now()
}

// flush uploads every pending file that has been quiet for the settle delay,
// in path order.
func (w *Watcher) flush(ctx context.Context, pending map[string]time.Time, done map[string]bool) {
	var ready []string

	for path, seen := range pending {
		if w.now().Sub(seen) >= w.cfg.SettleDelay {
			ready = append(ready, path)
		}
	}

	slices.Sort(ready)

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}

		delete(pending, path)
		done[path] = true

		w.uploadFile(ctx, path)
	}
}

func (w *Watcher) uploadFile(ctx context.Context, path string) {
	logger := w.logger.With(slog.String("path", path))

	if w.history != nil {
		uploaded, err := w.history.Uploaded(ctx, path)
		if err != nil {
			logger.Warn("could not check upload history", slog.String("error", err.Error()))
		} else if uploaded {
			logger.Info("already uploaded, skipping")
			return
		}
	}

	data, err := w.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("file vanished before upload")
			return
		}

		w.report(Result{Path: path, Err: fmt.Errorf("watch: reading %s: %w", path, err)})

		return
	}

	id, err := w.uploader.UploadFrom(ctx, path, data, w.cfg.DevelopInDays)
	if err != nil {
		logger.Warn("upload failed", slog.String("error", err.Error()))
	} else {
		logger.Info("uploaded", slog.String("media_id", id))
	}

	w.report(Result{Path: path, MediaID: id, Err: err})
}

func (w *Watcher) report(r Result) {
	if w.OnResult != nil {
		w.OnResult(r)
	}
}
