package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Worker drains published events into a Sink on a background goroutine.
type Worker struct {
	eventCh chan Event
	sink    Sink
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64
}

func NewWorker(sink Sink, bufferSize int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		eventCh: make(chan Event, bufferSize),
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *Worker) Start() {
	w.wg.Go(func() {
		for {
			select {
			case <-w.ctx.Done():
				slog.Info("draining journal before shutdown", "remaining_events", len(w.eventCh))
				for len(w.eventCh) > 0 {
					event := <-w.eventCh
					if err := w.sink.Save(context.Background(), event); err != nil {
						slog.Error("failed to save event during shutdown", "error", err, "event_type", event.Type)
					}
				}
				return
			case event := <-w.eventCh:
				if err := w.sink.Save(w.ctx, event); err != nil {
					slog.Error("failed to save event", "error", err, "event_type", event.Type)
				}
			}
		}
	})
}

// Publish never blocks; when the buffer is full the event is dropped, counted
// and logged.
func (w *Worker) Publish(event Event) {
	select {
	case w.eventCh <- event:
	default:
		n := w.dropped.Add(1)
		slog.Warn("journal buffer full, dropping event", "event_type", event.Type, "event_id", event.ID, "dropped_total", n)
	}
}

// Dropped reports how many events Publish has discarded since start.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Shutdown stops the worker after flushing buffered events.
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
	if n := w.Dropped(); n > 0 {
		slog.Warn("journal dropped events", "dropped_total", n)
	}
}
