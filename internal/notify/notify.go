// Package notify delivers committed vault events to external consumers.
// Delivery is fire-and-forget: a sink must never block the caller or feed
// an error back into vault control flow.
package notify

import (
	"log/slog"

	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/metrics"
	"github.com/atmx/safelend-vault/internal/model"
)

// Sink receives vault events.
type Sink interface {
	Notify(e model.Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(e model.Event)

// Notify calls f(e).
func (f SinkFunc) Notify(e model.Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(model.Event) {})

// Fanout delivers each event to every sink in order. Nil entries are
// skipped.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(e model.Event) {
	for _, s := range f {
		if s != nil {
			s.Notify(e)
		}
	}
}

// LogSink writes one structured debug line per event, carrying the event ID
// that the vault's own info logs do not.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(e model.Event) {
		attrs := []any{
			"id", e.ID,
			"vault", e.VaultID,
			"account", e.Account,
			"period", e.Period,
		}
		if e.Borrower != "" {
			attrs = append(attrs, "borrower", e.Borrower)
		}
		if e.Amount != nil {
			attrs = append(attrs, "amount", fixed.ToDecimal(e.Amount).String())
		}
		if e.Shares != nil {
			attrs = append(attrs, "shares", e.Shares.Dec())
		}
		if e.Collateral != nil {
			attrs = append(attrs, "collateral", fixed.ToDecimal(e.Collateral).String())
		}
		logger.Debug("vault event "+string(e.Kind), attrs...)
	})
}

// MetricsSink counts events and the asset volume they move.
func MetricsSink() Sink {
	return SinkFunc(func(e model.Event) {
		kind := string(e.Kind)
		metrics.OperationsTotal.WithLabelValues(kind).Inc()
		if e.Amount != nil {
			metrics.OperationVolume.WithLabelValues(kind).Add(fixed.Float(e.Amount))
		}
	})
}
