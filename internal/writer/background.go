package writer

import (
	"context"
	"time"
)

// StartBackgroundFlush launches a goroutine that calls FlushIfNeeded on the
// configured interval, so a writer that's only receiving occasional rows
// still meets its TIME_INTERVAL / MIXED flush trigger without relying on
// the caller to poll. Grounded on the teacher's FlowWriter.batchWriteLoop
// ticker pattern.
func (w *Writer) StartBackgroundFlush() {
	w.mu.Lock()
	if w.bgRunning {
		w.mu.Unlock()
		return
	}
	interval := w.cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.bgCancel = cancel
	w.bgRunning = true
	w.mu.Unlock()

	w.bgWG.Add(1)
	go func() {
		defer w.bgWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.FlushIfNeeded(); err != nil {
					w.log.Warn("background flush failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopBackgroundFlush stops the background flush goroutine, if running,
// and waits for it to exit.
func (w *Writer) StopBackgroundFlush() {
	w.mu.Lock()
	if !w.bgRunning {
		w.mu.Unlock()
		return
	}
	cancel := w.bgCancel
	w.bgRunning = false
	w.mu.Unlock()

	cancel()
	w.bgWG.Wait()
}

// IsBackgroundFlushRunning reports whether the background flush loop is active.
func (w *Writer) IsBackgroundFlushRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bgRunning
}
