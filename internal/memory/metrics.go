package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/caseflow-io/caseflow/internal/memory")

var (
	writesTotal    metric.Int64Counter
	readsTotal     metric.Int64Counter
	conflictsTotal metric.Int64Counter
	workingExpired metric.Int64Counter
	prunedTotal    metric.Int64Counter
)

func init() {
	var err error
	writesTotal, err = meter.Int64Counter("memory.writes.total",
		metric.WithDescription("Memory write operations by tier"))
	if err != nil {
		writesTotal, _ = meter.Int64Counter("memory.writes.total.fallback")
	}

	readsTotal, err = meter.Int64Counter("memory.reads.total",
		metric.WithDescription("Memory read operations by tier"))
	if err != nil {
		readsTotal, _ = meter.Int64Counter("memory.reads.total.fallback")
	}

	conflictsTotal, err = meter.Int64Counter("memory.episodic.conflicts",
		metric.WithDescription("Episodic writes rejected for reusing an incident id"))
	if err != nil {
		conflictsTotal, _ = meter.Int64Counter("memory.episodic.conflicts.fallback")
	}

	workingExpired, err = meter.Int64Counter("memory.working.expired",
		metric.WithDescription("Working entries evicted at read time by TTL"))
	if err != nil {
		workingExpired, _ = meter.Int64Counter("memory.working.expired.fallback")
	}

	prunedTotal, err = meter.Int64Counter("memory.pruned.total",
		metric.WithDescription("Entries removed by retention sweeps by tier"))
	if err != nil {
		prunedTotal, _ = meter.Int64Counter("memory.pruned.total.fallback")
	}
}

func tierAttr(tier string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tier", tier))
}
