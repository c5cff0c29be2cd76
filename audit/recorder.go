package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Recorder decouples event persistence from request handling: Record never
// blocks, and Shutdown drains whatever is still queued.
type Recorder struct {
	queue  chan Event
	store  Store
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRecorder(store Store, bufferSize int) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		queue:  make(chan Event, bufferSize),
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				slog.Info("draining audit events before shutdown", "remaining", len(r.queue))
				for len(r.queue) > 0 {
					e := <-r.queue
					if err := r.store.Save(context.Background(), e); err != nil {
						slog.Error("failed to save audit event during shutdown", "error", err, "event_type", e.Type)
					}
				}
				return
			case e := <-r.queue:
				if err := r.store.Save(r.ctx, e); err != nil {
					slog.Error("failed to save audit event", "error", err, "event_type", e.Type)
				}
			}
		}
	}()
}

// Record enqueues the event. A full queue drops it; the trail is best-effort
// and must never stall a request.
func (r *Recorder) Record(e Event) {
	select {
	case r.queue <- e:
	default:
		slog.Warn("audit queue full, dropping event", "event_type", e.Type)
	}
}

func (r *Recorder) Shutdown() {
	r.cancel()
	r.wg.Wait()
	close(r.queue)
}
