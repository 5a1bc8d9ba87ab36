package manifest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/metrics"
)

// DefaultDebounce is the quiet period after the last change before a reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the manifests matching a pattern when they change.
type Watcher struct {
	pattern  string
	base     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *metrics.Logger
	overlay  *Manifest

	recursive bool
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatchLogger sets the logger reload failures are reported to.
func WithWatchLogger(l *metrics.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithOverlay merges o over every reloaded manifest set, the way
// command-line settings override manifest files.
func WithOverlay(o *Manifest) WatchOption {
	return func(w *Watcher) {
		w.overlay = o
	}
}

// NewWatcher watches every directory under the pattern's static prefix.
func NewWatcher(pattern string, opts ...WatchOption) (*Watcher, error) {
	pattern = filepath.Clean(pattern)
	base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
	recursive := hasMeta(rest)
	if !recursive {
		base = filepath.ToSlash(filepath.Dir(pattern))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		pattern:  filepath.ToSlash(pattern),
		base:     filepath.FromSlash(base),
		fsw:      fsw,
		debounce: DefaultDebounce,
		logger:   metrics.GetLogger(),

		recursive: recursive,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("manifest")

	if err := w.addTree(w.base); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers the reloaded version data to onChange until ctx is
// cancelled. A manifest that fails to load is logged and skipped; the
// previous data stays in effect.
func (w *Watcher) Run(ctx context.Context, onChange func(*compat.VersionData)) error {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.recursive && ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addTree(ev.Name)
					continue
				}
			}
			if !w.matches(ev.Name) || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
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
			vd, err := w.load()
			if err != nil {
				w.logger.Error("manifest reload failed", metrics.Fields{"pattern": w.pattern, "error": err.Error()})
				continue
			}
			w.logger.Info("manifest reloaded", metrics.Fields{"pattern": w.pattern, "modules": vd.ModuleCount()})
			onChange(vd)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("manifest watch error", metrics.Fields{"error": err.Error()})
		}
	}
}

func (w *Watcher) load() (*compat.VersionData, error) {
	m, err := Load(filepath.FromSlash(w.pattern))
	if err != nil {
		return nil, err
	}
	if w.overlay != nil {
		if m, err = Merge(m, w.overlay); err != nil {
			return nil, err
		}
	}
	return m.VersionData()
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) matches(name string) bool {
	ok, err := doublestar.Match(w.pattern, filepath.ToSlash(filepath.Clean(name)))
	return err == nil && ok
}

func (w *Watcher) addTree(root string) error {
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(p)
	})
}
