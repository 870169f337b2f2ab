// metrics.go - Metrics collection for the ledger daemon
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"utxoledger/internal/data"
	"utxoledger/internal/digest"
	"utxoledger/internal/ledger"
	"utxoledger/internal/store"
)

// Predefined metric names
const (
	MetricTxApplied        = "tx_applied"
	MetricTxRejected       = "tx_rejected"
	MetricOutputsCreated   = "outputs_created"
	MetricCheckpoints      = "checkpoints"
	MetricSnapshots        = "snapshots"
	MetricNextTxn          = "next_txn"
	MetricGlobalCommits    = "global_commit_count"
	MetricLastSnapshot     = "last_snapshot_id"
	MetricBlockApplyTime   = "block_apply_seconds"
	MetricCircuitSetupTime = "circuit_setup_seconds"
)

// MetricsCollector counts ledger events. It implements ledger.Observer.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

var _ ledger.Observer = (*MetricsCollector)(nil)

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter adds delta to a counter
func (mc *MetricsCollector) IncrementCounter(name string, delta int64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[makeKey(name, labels)] += delta
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.gauges[makeKey(name, labels)] = value
}

// RecordHistogram records a value in a histogram
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	values := append(mc.histograms[key], value)
	// Keep only the last 1000 values
	if len(values) > 1000 {
		values = values[len(values)-1000:]
	}
	mc.histograms[key] = values
}

// Counter returns the current value of a counter
func (mc *MetricsCollector) Counter(name string, labels map[string]string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[makeKey(name, labels)]
}

// Gauge returns the current value of a gauge
func (mc *MetricsCollector) Gauge(name string, labels map[string]string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.gauges[makeKey(name, labels)]
}

// HistogramStats summarizes recorded values
type HistogramStats struct {
	Count int     `yaml:"count"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Sum   float64 `yaml:"sum"`
	Avg   float64 `yaml:"avg"`
}

// MetricsSummary is the snapshot written to metrics_path
type MetricsSummary struct {
	Counters   map[string]int64          `yaml:"counters"`
	Gauges     map[string]float64        `yaml:"gauges"`
	Histograms map[string]HistogramStats `yaml:"histograms"`
}

// GetMetricsSummary returns a summary of all metrics
func (mc *MetricsCollector) GetMetricsSummary() *MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	summary := &MetricsSummary{
		Counters:   make(map[string]int64, len(mc.counters)),
		Gauges:     make(map[string]float64, len(mc.gauges)),
		Histograms: make(map[string]HistogramStats, len(mc.histograms)),
	}
	for key, v := range mc.counters {
		summary.Counters[key] = v
	}
	for key, v := range mc.gauges {
		summary.Gauges[key] = v
	}
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		h := HistogramStats{Count: len(values), Min: values[0], Max: values[0]}
		for _, v := range values {
			if v < h.Min {
				h.Min = v
			}
			if v > h.Max {
				h.Max = v
			}
			h.Sum += v
		}
		h.Avg = h.Sum / float64(h.Count)
		summary.Histograms[key] = h
	}
	return summary
}

// WriteSummary writes the metrics summary as YAML
func (mc *MetricsCollector) WriteSummary(path string) error {
	raw, err := yaml.Marshal(mc.GetMetricsSummary())
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// makeKey creates a deterministic key for a metric name and labels
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		fmt.Fprintf(&b, "{%s=%s}", k, labels[k])
	}
	return b.String()
}

func (mc *MetricsCollector) TxApplied(sid data.TxnSID, outputs int) {
	mc.IncrementCounter(MetricTxApplied, 1, nil)
	mc.IncrementCounter(MetricOutputsCreated, int64(outputs), nil)
	mc.SetGauge(MetricNextTxn, float64(sid+1), nil)
}

func (mc *MetricsCollector) TxRejected(kind store.Kind) {
	mc.IncrementCounter(MetricTxRejected, 1, map[string]string{"kind": kind.String()})
}

func (mc *MetricsCollector) Checkpointed(_ digest.Digest, count uint64) {
	mc.IncrementCounter(MetricCheckpoints, 1, nil)
	mc.SetGauge(MetricGlobalCommits, float64(count), nil)
}

func (mc *MetricsCollector) Snapshotted(id store.SnapshotID) {
	mc.IncrementCounter(MetricSnapshots, 1, nil)
	mc.SetGauge(MetricLastSnapshot, float64(id.ID), nil)
}

// RecordBlock records how long a block took to apply
func (mc *MetricsCollector) RecordBlock(duration time.Duration) {
	mc.RecordHistogram(MetricBlockApplyTime, duration.Seconds(), nil)
}

// RecordCircuitSetup records how long circuit compilation and key loading took
func (mc *MetricsCollector) RecordCircuitSetup(duration time.Duration) {
	mc.RecordHistogram(MetricCircuitSetupTime, duration.Seconds(), nil)
}
