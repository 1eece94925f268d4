// Package metrics exposes Prometheus counters for sidecar moves, index
// rekeys, artifact writes and legacy migration outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the counters. A nil *Collector is valid and records nothing.
type Collector struct {
	sidecarMoves   *prometheus.CounterVec
	documentMoves  *prometheus.CounterVec
	indexRekeys    *prometheus.CounterVec
	artifactWrites *prometheus.CounterVec
	migrationItems *prometheus.CounterVec
	migrationRuns  *prometheus.CounterVec
}

// New creates a Collector and registers it with reg.
func New(namespace string, reg prometheus.Registerer) *Collector {
	c := &Collector{
		sidecarMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_moves_total",
			Help:      "Sidecar files moved after a document relocation, by method and result.",
		}, []string{"method", "result"}),
		documentMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_moves_total",
			Help:      "Document moves handled by the interceptor, by result.",
		}, []string{"result"}),
		indexRekeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rekeys_total",
			Help:      "Index rekey attempts, by result.",
		}, []string{"result"}),
		artifactWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_writes_total",
			Help:      "Artifact cache writes, by operation.",
		}, []string{"op"}),
		migrationItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_migration_items_total",
			Help:      "Legacy items processed, by outcome.",
		}, []string{"outcome"}),
		migrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_migration_runs_total",
			Help:      "Legacy migration runs, by final state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(c.sidecarMoves, c.documentMoves, c.indexRekeys,
			c.artifactWrites, c.migrationItems, c.migrationRuns)
	}
	return c
}

// SidecarMoved records one sidecar file move.
func (c *Collector) SidecarMoved(method string, ok bool) {
	if c == nil {
		return
	}
	c.sidecarMoves.WithLabelValues(method, result(ok)).Inc()
}

// DocumentMoved records one intercepted document move.
func (c *Collector) DocumentMoved(ok bool) {
	if c == nil {
		return
	}
	c.documentMoves.WithLabelValues(result(ok)).Inc()
}

// IndexRekeyed records one RekeyAll call.
func (c *Collector) IndexRekeyed(ok bool) {
	if c == nil {
		return
	}
	c.indexRekeys.WithLabelValues(result(ok)).Inc()
}

// ArtifactWritten records one artifact cache write.
func (c *Collector) ArtifactWritten(op string) {
	if c == nil {
		return
	}
	c.artifactWrites.WithLabelValues(op).Inc()
}

// MigrationItems adds n items with the given outcome.
func (c *Collector) MigrationItems(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.migrationItems.WithLabelValues(outcome).Add(float64(n))
}

// MigrationRun records the final state of a migration run.
func (c *Collector) MigrationRun(state string) {
	if c == nil {
		return
	}
	c.migrationRuns.WithLabelValues(state).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
