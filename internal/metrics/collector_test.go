package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("chatwidget_test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector.connectionAttempts)
	assert.NotNil(t, collector.sessionsEnded)
	assert.NotNil(t, collector.healthScore)

	// 同一注册表重复注册会 panic，独立注册表互不影响
	assert.NotPanics(t, func() { NewCollector("chatwidget_test", prometheus.NewRegistry(), nil) })
	assert.Panics(t, func() { NewCollector("chatwidget_test", reg, nil) })
}

func TestCollector_ConnectionMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordConnectionAttempt(true)
	collector.RecordConnectionAttempt(false)
	collector.RecordConnectionAttempt(false)
	collector.RecordReconnect()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.connectionAttempts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.connectionAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reconnects))

	collector.SetConnectionState("", "connecting")
	collector.SetConnectionState("connecting", "connected")
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.connectionState.WithLabelValues("connected")))

	collector.RecordLatency(120*time.Millisecond, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.quality))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.latency))
}

func TestCollector_SessionMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.SetActiveSessions(3)
	collector.RecordSessionEnd("completed", 2*time.Second)
	collector.RecordSessionEnd("cancelled", time.Second)
	collector.RecordStartRejected("boundary_suppressed")

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsEnded.WithLabelValues("completed")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.sessionDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.startsRejected.WithLabelValues("boundary_suppressed")))
}

func TestCollector_ChunkMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordChunk(5)
	collector.RecordChunk(7)
	collector.RecordChunkRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.chunksAccepted))
	assert.Equal(t, 12.0, testutil.ToFloat64(collector.chunkBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.chunksRejected))
}

func TestCollector_BoundaryAndHealth(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.SetBoundaryOpen(true)
	collector.SetBoundaryOpen(false)
	collector.SetBoundaryOpen(true)
	collector.SetHealthScore(42.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.boundaryOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.boundaryTrips))
	assert.Equal(t, 42.5, testutil.ToFloat64(collector.healthScore))
}

func TestCollector_PersistenceMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordSnapshotPublish(nil)
	collector.RecordSnapshotPublish(errors.New("redis down"))
	collector.RecordDBQuery("insert", 20*time.Millisecond)
	collector.RecordDBConnections(10, 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.snapshotPublishes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.snapshotPublishes.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.dbQueryDuration))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, reg := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordChunk(1)
			collector.RecordConnectionAttempt(true)
			collector.RecordSessionEnd("completed", time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.chunksAccepted))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
