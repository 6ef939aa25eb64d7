package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Root        string
	InitialScan bool          // emit documents already present under Root
	Debounce    time.Duration // coalesce rapid create/write bursts
	Logger      *slog.Logger
}

// Watch emits the ref of every supported document created or rewritten
// below Root until ctx is done. New subdirectories are watched as they
// appear. Both channels close when the watcher stops.
func Watch(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		return nil, nil, errors.New("watch root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	// addTree watches every directory under dir and hands supported files to found.
	addTree := func(dir string, found func(string)) error {
		return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p != root && IsHidden(p) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(p)
			}
			if found != nil && Allowed(p) {
				found(p)
			}
			return nil
		})
	}
	var initial []string
	var collect func(string)
	if cfg.InitialScan {
		collect = func(p string) { initial = append(initial, p) }
	}
	if err := addTree(root, collect); err != nil {
		logger.Error("failed to add watch root", "root", root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	refCh := make(chan string, 256)
	errCh := make(chan error, 1)

	toRef := func(p string) (string, bool) {
		rel, err := filepath.Rel(root, p)
		if err != nil || !filepath.IsLocal(rel) {
			return "", false
		}
		return filepath.ToSlash(rel), true
	}

	go func() {
		defer close(refCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("close watcher failed", "error", err)
			}
		}()

		emit := func(p string) bool {
			ref, ok := toRef(p)
			if !ok {
				return true
			}
			select {
			case refCh <- ref:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		pending := map[string]struct{}{}
		queue := func(p string) { pending[p] = struct{}{} }
		var timer *time.Timer
		var fire <-chan time.Time
		flush := func() bool {
			for p := range pending {
				delete(pending, p)
				if !emit(p) {
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) && !IsHidden(e.Name) {
					if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
						// files written before the directory was watched are picked up here
						if err := addTree(e.Name, queue); err != nil {
							logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
						}
						e.Name = ""
					}
				}
				if e.Name != "" {
					if IsHidden(e.Name) || !Allowed(e.Name) || !(e.Has(fsnotify.Create) || e.Has(fsnotify.Write)) {
						continue
					}
					queue(e.Name)
				}
				if len(pending) == 0 {
					continue
				}
				if cfg.Debounce <= 0 {
					if !flush() {
						return
					}
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(cfg.Debounce)
				fire = timer.C
			case <-fire:
				fire = nil
				if !flush() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return refCh, errCh, nil
}
