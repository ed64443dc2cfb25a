package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTx("createBatch", "OK")
	m.ObserveTx("createBatch", "OK")
	m.ObserveTx("updateStage", "InvalidTransition")
	m.IncrementBatchesCreated()
	m.SetBlockHeight(12)
	m.ObserveDelivery("kafka", "ok", 3)
	m.ObserveHTTP("/batches", "201")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TxResults.WithLabelValues("createBatch", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxResults.WithLabelValues("updateStage", "InvalidTransition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesCreated))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.BlockHeight))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("kafka", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/batches", "201")))
}

func TestNewNopIsolated(t *testing.T) {
	a, b := NewNop(), NewNop()
	a.IncrementBatchesCreated()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BatchesCreated))
}
