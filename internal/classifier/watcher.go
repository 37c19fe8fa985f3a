package classifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long the watcher waits for writes to settle.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads the active user's model when its artifacts change on disk.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	delay    time.Duration

	// Reloaded receives the user id after each reload attempt, if non-nil.
	Reloaded chan<- string
}

// NewWatcher watches the registry's models directory and every user directory in it.
func NewWatcher(registry *Registry, delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	root := registry.Store().Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		fw.Close()
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(root, e.Name())); err != nil {
				log.Printf("model watcher: skip %s: %v", e.Name(), err)
			}
		}
	}

	return &Watcher{registry: registry, watcher: fw, delay: delay}, nil
}

// Run processes filesystem events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	root := filepath.Clean(w.registry.Store().Root())
	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	pending := ""

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// New user directory: start watching it.
			if event.Op&fsnotify.Create == fsnotify.Create && filepath.Dir(event.Name) == root {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						log.Printf("model watcher: watch %s: %v", event.Name, err)
					}
				}
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			userID := filepath.Base(filepath.Dir(event.Name))
			active := w.registry.Active()
			if active == nil || active.UserID != userID {
				continue
			}
			pending = userID
			timer.Reset(w.delay)

		case <-timer.C:
			if pending == "" {
				continue
			}
			userID := pending
			pending = ""
			if _, err := w.registry.LoadUser(userID); err != nil {
				log.Printf("model watcher: reload %s: %v", userID, err)
			}
			if w.Reloaded != nil {
				select {
				case w.Reloaded <- userID:
				default:
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("model watcher error: %v", err)
		}
	}
}
