package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"utxoledger/internal/digest"
	"utxoledger/internal/store"
)

func TestMetricsObserveLedgerEvents(t *testing.T) {
	mc := NewMetricsCollector()
	mc.TxApplied(0, 1)
	mc.TxApplied(1, 2)
	mc.TxRejected(store.KindReplayedIssuance)
	mc.TxRejected(store.KindReplayedIssuance)
	mc.TxRejected(store.KindProofInvalid)
	mc.Checkpointed(digest.Digest{}, 4)
	mc.Snapshotted(store.SnapshotID{ID: 2})

	assert.Equal(t, int64(2), mc.Counter(MetricTxApplied, nil))
	assert.Equal(t, int64(3), mc.Counter(MetricOutputsCreated, nil))
	assert.Equal(t, float64(2), mc.Gauge(MetricNextTxn, nil))
	assert.Equal(t, int64(2), mc.Counter(MetricTxRejected, map[string]string{"kind": "replayed_issuance"}))
	assert.Equal(t, int64(1), mc.Counter(MetricTxRejected, map[string]string{"kind": "proof_invalid"}))
	assert.Equal(t, float64(4), mc.Gauge(MetricGlobalCommits, nil))
	assert.Equal(t, float64(2), mc.Gauge(MetricLastSnapshot, nil))
}

func TestMakeKeyIsDeterministic(t *testing.T) {
	labels := map[string]string{"b": "2", "a": "1", "c": "3"}
	assert.Equal(t, "m{a=1}{b=2}{c=3}", makeKey("m", labels))
	assert.Equal(t, "m", makeKey("m", nil))
}

func TestHistogramSummary(t *testing.T) {
	mc := NewMetricsCollector()
	for _, v := range []float64{3, 1, 2} {
		mc.RecordHistogram(MetricBlockApplyTime, v, nil)
	}
	for i := 0; i < 1200; i++ {
		mc.RecordHistogram("bounded", 1, nil)
	}

	s := mc.GetMetricsSummary()
	h := s.Histograms[MetricBlockApplyTime]
	assert.Equal(t, HistogramStats{Count: 3, Min: 1, Max: 3, Sum: 6, Avg: 2}, h)
	assert.Equal(t, 1000, s.Histograms["bounded"].Count)
}

func TestWriteSummary(t *testing.T) {
	mc := NewMetricsCollector()
	mc.TxApplied(0, 3)
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, mc.WriteSummary(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back MetricsSummary
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, int64(3), back.Counters[MetricOutputsCreated])
}
