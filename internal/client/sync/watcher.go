package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	watcherBufferSize      = 64
	defaultDebounceTimeout = 100 * time.Millisecond
	selfWriteIgnoreWindow  = time.Second
)

// FileWatcher emits debounced write events for the sync root. IgnoreOnce
// suppresses the next event for a path for a short window; the sync
// engine does not call it, so its own downloads are reported like any
// other write.
type FileWatcher struct {
	watchDir  string
	rawEvents chan notify.EventInfo
	events    chan string

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	debounceMu sync.Mutex
	timers     map[string]*time.Timer

	wg sync.WaitGroup
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir: watchDir,
		ignore:   make(map[string]time.Time),
		timers:   make(map[string]*time.Timer),
	}
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, watcherBufferSize)
	fw.events = make(chan string, watcherBufferSize)

	if err := notify.Watch(fw.watchDir+"/...", fw.rawEvents, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.loop(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	notify.Stop(fw.rawEvents)
	fw.wg.Wait()
	slog.Info("file watcher stopped")
}

// Events yields debounced paths that changed on disk.
func (fw *FileWatcher) Events() <-chan string {
	return fw.events
}

// IgnoreOnce suppresses the next event for path within the ignore window.
func (fw *FileWatcher) IgnoreOnce(path string) {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()
	fw.ignore[path] = time.Now().Add(selfWriteIgnoreWindow)
}

func (fw *FileWatcher) shouldIgnore(path string) bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	expiry, ok := fw.ignore[path]
	if !ok {
		return false
	}
	delete(fw.ignore, path)
	return time.Now().Before(expiry)
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer fw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			path := event.Path()
			if fw.shouldIgnore(path) {
				continue
			}
			fw.debounce(path)
		}
	}
}

// debounce coalesces the burst of events an editor save produces into a
// single emission per path.
func (fw *FileWatcher) debounce(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, ok := fw.timers[path]; ok {
		timer.Reset(defaultDebounceTimeout)
		return
	}

	fw.timers[path] = time.AfterFunc(defaultDebounceTimeout, func() {
		fw.debounceMu.Lock()
		delete(fw.timers, path)
		fw.debounceMu.Unlock()

		select {
		case fw.events <- path:
		default:
			// a full buffer means a sync pass is already due
		}
	})
}
