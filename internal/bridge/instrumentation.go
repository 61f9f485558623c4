package bridge

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/dense-identity/callsync/internal/bridge"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)

type instruments struct {
	phoneStates metric.Int64Counter
	clccRows    metric.Int64Counter
	reconciles  metric.Int64Counter
}

func newInstruments() instruments {
	var in instruments
	// Instrument creation only fails on invalid names; the no-op instruments returned
	// alongside the error are still safe to use.
	in.phoneStates, _ = meter.Int64Counter("bridge.phone_state.updates",
		metric.WithDescription("Phone-state updates emitted to the legacy sink"))
	in.clccRows, _ = meter.Int64Counter("bridge.clcc.rows",
		metric.WithDescription("List-current-calls rows emitted, terminators included"))
	in.reconciles, _ = meter.Int64Counter("bridge.reconcile.events",
		metric.WithDescription("Reconciliation events handled by the worker"))
	return in
}
