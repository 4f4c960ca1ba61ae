package agent

import (
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SpoolWatcher watches a capture directory for new photos. Events are
// debounced so half-written files settle before the handler sees them.
type SpoolWatcher struct {
	w       *fsnotify.Watcher
	dir     string
	handler func(path string)
	logger  *log.Logger
	stop    chan struct{}
	done    chan struct{}
}

func WatchSpool(dir string, handler func(path string)) (*SpoolWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	sw := &SpoolWatcher{
		w:       w,
		dir:     dir,
		handler: handler,
		logger:  log.Default(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go sw.loop()
	return sw, nil
}

func (sw *SpoolWatcher) loop() {
	defer close(sw.done)
	// simple debounce map of pending files
	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sw.w.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == fsnotify.Create || ev.Op&fsnotify.Write == fsnotify.Write {
				if !isPhotoExt(ev.Name) {
					continue
				}
				pending[ev.Name] = time.Now()
			}
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > 300*time.Millisecond { // stable
					sw.handler(name)
					delete(pending, name)
				}
			}
		case err, ok := <-sw.w.Errors:
			if !ok {
				return
			}
			sw.logger.Printf("agent: spool watch error: %v", err)
		case <-sw.stop:
			return
		}
	}
}

func (sw *SpoolWatcher) Close() error {
	close(sw.stop)
	err := sw.w.Close()
	<-sw.done
	return err
}

func isPhotoExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
