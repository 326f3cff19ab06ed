package landing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/logger"
)

const defaultSettle = 500 * time.Millisecond

// Watcher reports files that finish landing in a LocalStore. A file is reported
// once it has gone a settle period without further writes, so a batch copied
// in slowly is not picked up half written.
type Watcher struct {
	store   *LocalStore
	matcher Matcher
	settle  time.Duration
	onReady func(ctx context.Context, ref ObjectRef)
	log     *logger.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]time.Time
	wg      sync.WaitGroup
}

// NewWatcher calls onReady for every settled file under store that matcher accepts.
func NewWatcher(store *LocalStore, matcher Matcher, onReady func(ctx context.Context, ref ObjectRef), log *logger.Logger) *Watcher {
	return &Watcher{
		store:   store,
		matcher: matcher,
		settle:  defaultSettle,
		onReady: onReady,
		log:     log.WithComponent("landing-watcher"),
		pending: make(map[string]time.Time),
	}
}

// Start watches every directory under the landing root until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = fw

	err = filepath.WalkDir(w.store.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(p); err != nil {
				w.log.WithError(err).Warn("failed to watch directory", zap.String("dir", p))
			}
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to walk landing dir: %w", err)
	}

	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.settleLoop(ctx)
	w.log.Info("watching landing directory", zap.String("dir", w.store.Root()))
	return nil
}

// Stop waits for the loops to exit and releases the watcher. ctx passed to Start must be done first.
func (w *Watcher) Stop() error {
	w.wg.Wait()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.WithError(err).Warn("failed to watch new directory", zap.String("dir", event.Name))
			}
			return
		}
	}
	if strings.HasPrefix(filepath.Base(event.Name), tempPrefix) {
		return
	}
	rel, err := filepath.Rel(w.store.Root(), event.Name)
	if err != nil {
		return
	}
	name := filepath.ToSlash(rel)
	if !w.matcher.Match(name) {
		return
	}
	w.mu.Lock()
	w.pending[name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) settleLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, name := range w.takeSettled(now) {
				ref, err := w.store.Stat(ctx, name)
				if errors.Is(err, ErrObjectNotFound) {
					continue
				}
				if err != nil {
					w.log.WithError(err).Warn("failed to stat landed file", zap.String("object", name))
					continue
				}
				w.onReady(ctx, ref)
			}
		}
	}
}

func (w *Watcher) takeSettled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ready []string
	for name, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, name)
			delete(w.pending, name)
		}
	}
	return ready
}
