package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/files"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
)

// RunFunc processes at most one file and reports whether it consumed one,
// that is whether the file left the inbox. drain repeats while it returns true.
type RunFunc func(ctx context.Context) (bool, error)

type Watcher struct {
	dir      string
	interval time.Duration
	// settle is how long the inbox must stay quiet before a run starts, so a
	// file being copied in is not read half written.
	settle time.Duration
	run    RunFunc
	logger *logrus.Entry
}

func New(dir string, interval time.Duration, run RunFunc, logger logrus.FieldLogger) *Watcher {
	return &Watcher{
		dir:      dir,
		interval: interval,
		settle:   2 * time.Second,
		run:      run,
		logger:   logging.ForSession(logger, logging.CategoryWatch, "").WithField("inbox", dir),
	}
}

// WithSettle overrides the quiet period applied after inbox events.
func (w *Watcher) WithSettle(d time.Duration) *Watcher {
	w.settle = d
	return w
}

// Run drains the inbox once, then again on every spreadsheet event and on
// every interval tick, until ctx is done. Run errors are logged, not returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.logger.WithField("interval", w.interval.String()).Info("watching inbox")
	w.drain(ctx)

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopped")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !files.IsSpreadsheet(event.Name) {
				continue
			}
			w.logger.WithFields(logrus.Fields{"path": event.Name, "op": event.Op.String()}).Debug("inbox event")
			settled = time.After(w.settle)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("inbox watcher error")
		case <-settled:
			settled = nil
			w.drain(ctx)
		case <-tick:
			w.drain(ctx)
		}
	}
}

func (w *Watcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		found, err := w.run(ctx)
		if err != nil {
			w.logger.WithError(err).Error("run failed")
			return
		}
		if !found {
			return
		}
	}
}
