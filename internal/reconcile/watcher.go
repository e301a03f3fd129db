package reconcile

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns filesystem writes under the transcript roots into
// reconciler nudges, so fresh output shows up ahead of the next poll
// tick. Polling remains the source of truth; the watcher only improves
// latency.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func()
}

// NewWatcher watches the given roots and their existing subdirectories.
// Directories created later are added as they appear.
func NewWatcher(roots []string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, onChange: onChange}
	for _, root := range roots {
		w.addTree(root)
	}
	return w, nil
}

func (w *Watcher) addTree(root string) {
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				log.Printf("[watch] add %s: %v", path, err)
			}
		}
		return nil
	})
}

// Run delivers nudges until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addTree(ev.Name)
				}
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				w.onChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watch] error: %v", err)
		}
	}
}
