package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New("marginalia", reg)

	c.SidecarMoved("rename", true)
	c.SidecarMoved("copy", false)
	c.MigrationItems("migrated", 3)
	c.MigrationItems("skipped", 0)
	c.ArtifactWritten("update")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sidecarMoves.WithLabelValues("rename", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sidecarMoves.WithLabelValues("copy", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.migrationItems.WithLabelValues("migrated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.artifactWrites.WithLabelValues("update")))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	c.SidecarMoved("rename", true)
	c.DocumentMoved(false)
	c.IndexRekeyed(true)
	c.ArtifactWritten("put")
	c.MigrationItems("failed", 1)
	c.MigrationRun("complete")
}
