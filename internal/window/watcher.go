package window

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Control file names recognized inside the control directory.
const (
	signalPause       = "pause"
	signalResume      = "resume"
	signalMaintenance = "maintenance"
	signalKill        = "kill"
)

// Watcher applies operator control files to a Controller. Creating a file
// named pause, resume, or maintenance in the control directory triggers the
// matching manual transition; kill invokes the shutdown callback. Each file
// is consumed (removed) once handled.
type Watcher struct {
	dir     string
	ctrl    *Controller
	onKill  func()
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a control-file watcher for the given directory. The
// directory is created if missing. Existing signal files are consumed
// immediately so a pause requested while the daemon was down still applies.
func NewWatcher(dir string, ctrl *Controller, onKill func()) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:    dir,
		ctrl:   ctrl,
		onKill: onKill,
		done:   make(chan struct{}),
	}

	for _, name := range []string{signalPause, signalResume, signalMaintenance, signalKill} {
		w.consume(name)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	w.watcher = watcher

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.consume(filepath.Base(event.Name))
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// consume applies and removes one signal file if it exists.
func (w *Watcher) consume(name string) {
	path := filepath.Join(w.dir, name)
	if _, err := os.Stat(path); err != nil {
		return
	}

	switch name {
	case signalPause:
		log.Printf("[window] pause signal received")
		w.ctrl.Pause()
	case signalResume:
		log.Printf("[window] resume signal received")
		w.ctrl.Resume()
	case signalMaintenance:
		log.Printf("[window] maintenance signal received")
		w.ctrl.EnterMaintenance()
	case signalKill:
		log.Printf("[window] kill signal received")
		if w.onKill != nil {
			w.onKill()
		}
	default:
		return
	}

	os.Remove(path)
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
