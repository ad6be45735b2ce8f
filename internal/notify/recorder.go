package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/safelend-vault/internal/metrics"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/store"
)

// drainTimeout bounds how long Run keeps flushing queued writes after its
// context is cancelled.
const drainTimeout = 5 * time.Second

type job struct {
	event       *model.Event
	liquidation *model.LiquidationRecord
}

// Recorder persists events and liquidation records to a store from a single
// background goroutine. Enqueueing never blocks: when the buffer is full the
// item is dropped and counted.
type Recorder struct {
	st     store.Store
	queue  chan job
	logger *slog.Logger
}

// NewRecorder creates a recorder with the given queue capacity. Call Run to
// start writing.
func NewRecorder(st store.Store, buffer int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		st:     st,
		queue:  make(chan job, buffer),
		logger: logger,
	}
}

// Notify implements Sink.
func (r *Recorder) Notify(e model.Event) {
	r.enqueue(job{event: &e})
}

// RecordLiquidation queues an agent liquidation record for persistence.
func (r *Recorder) RecordLiquidation(rec model.LiquidationRecord) {
	r.enqueue(job{liquidation: &rec})
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.queue <- j:
	default:
		metrics.DroppedEvents.WithLabelValues("recorder").Inc()
		r.logger.Warn("recorder queue full, dropping write")
	}
}

// Run writes queued items until ctx is cancelled, then drains whatever is
// still buffered. It always returns nil; individual write failures are
// logged.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case j := <-r.queue:
			r.write(ctx, j)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case j := <-r.queue:
			r.write(ctx, j)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, j job) {
	switch {
	case j.event != nil:
		e := j.event
		if err := r.st.InsertEvent(ctx, e); err != nil {
			r.logger.Error("persist event failed", "id", e.ID, "kind", e.Kind, "err", err)
			return
		}
		if e.Position != nil {
			if err := r.st.UpsertPosition(ctx, e.VaultID, e.Position); err != nil {
				r.logger.Error("persist position failed", "account", e.Position.Account, "err", err)
			}
		}
	case j.liquidation != nil:
		rec := j.liquidation
		if err := r.st.InsertLiquidationRecord(ctx, rec); err != nil {
			r.logger.Error("persist liquidation failed", "id", rec.ID, "borrower", rec.Borrower, "err", err)
		}
	}
}
