package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchArtifact watches path for writes and invokes reload whenever one
// occurs, logging (but not failing the process on) reload errors. Callers
// that hold onto state built from the watched file are responsible for
// making reload's effect atomic from every other goroutine's point of
// view; WatchArtifact itself only detects the change and serializes the
// events.
func WatchArtifact(path string, log *zap.SugaredLogger, reload func() error) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close() //nolint:errcheck
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				log.Infof("artifact changed, reloading: %s", path)
				if err := reload(); err != nil {
					log.Warnf("artifact reload failed: %s", err)
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("artifact watcher error: %s", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close() //nolint:errcheck
	}, nil
}
