package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects performance metrics for consensus operations. It
// implements raft.Collector. All recording methods are safe for concurrent
// use; counters are atomics and latency samples go behind their own locks.
type Metrics struct {
	mu sync.RWMutex

	// Command latencies, submission to commit.
	commandLatencies []time.Duration

	// RPC counters.
	appendEntriesCount atomic.Uint64
	requestVoteCount   atomic.Uint64
	heartbeatCount     atomic.Uint64

	// Throughput tracking.
	commandsCommitted atomic.Uint64
	startTime         time.Time

	// Leader election metrics.
	electionCount    atomic.Uint64
	electionDuration []time.Duration
	electionMu       sync.Mutex
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		commandLatencies: make([]time.Duration, 0, 10000),
		electionDuration: make([]time.Duration, 0, 100),
		startTime:        time.Now(),
	}
}

// RecordCommandLatency records the latency of one command from submission to
// commit.
func (m *Metrics) RecordCommandLatency(latency time.Duration) {
	m.mu.Lock()
	m.commandLatencies = append(m.commandLatencies, latency)
	m.mu.Unlock()
}

// RecordCommandCommitted increments the count of committed commands.
func (m *Metrics) RecordCommandCommitted() {
	m.commandsCommitted.Add(1)
}

// RecordAppendEntries increments the AppendEntries RPC counter.
func (m *Metrics) RecordAppendEntries() {
	m.appendEntriesCount.Add(1)
}

// RecordRequestVote increments the RequestVote RPC counter.
func (m *Metrics) RecordRequestVote() {
	m.requestVoteCount.Add(1)
}

// RecordHeartbeat increments the heartbeat counter.
func (m *Metrics) RecordHeartbeat() {
	m.heartbeatCount.Add(1)
}

// RecordElection records a leader election occurrence.
func (m *Metrics) RecordElection() {
	m.electionCount.Add(1)
}

// RecordElectionDuration records how long an election took.
func (m *Metrics) RecordElectionDuration(duration time.Duration) {
	m.electionMu.Lock()
	m.electionDuration = append(m.electionDuration, duration)
	m.electionMu.Unlock()
}

// LatencyStats contains percentile statistics for latencies.
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Mean   float64 `json:"mean_ms"`
	P50    float64 `json:"p50_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"stddev_ms"`
}

// GetLatencyStats computes percentile statistics from recorded command
// latencies.
func (m *Metrics) GetLatencyStats() LatencyStats {
	m.mu.RLock()
	latencies := make([]time.Duration, len(m.commandLatencies))
	copy(latencies, m.commandLatencies)
	m.mu.RUnlock()

	return statsOf(latencies)
}

// GetElectionStats returns statistics about leader election durations.
func (m *Metrics) GetElectionStats() LatencyStats {
	m.electionMu.Lock()
	durations := make([]time.Duration, len(m.electionDuration))
	copy(durations, m.electionDuration)
	m.electionMu.Unlock()

	return statsOf(durations)
}

func statsOf(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i] < samples[j]
	})

	samplesMs := make([]float64, len(samples))
	var sum float64
	for i, sample := range samples {
		ms := float64(sample.Microseconds()) / 1000.0
		samplesMs[i] = ms
		sum += ms
	}

	mean := sum / float64(len(samplesMs))

	var variance float64
	for _, ms := range samplesMs {
		diff := ms - mean
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(samplesMs)))

	return LatencyStats{
		Count:  len(samples),
		Min:    samplesMs[0],
		Max:    samplesMs[len(samplesMs)-1],
		Mean:   mean,
		P50:    percentile(samplesMs, 50),
		P95:    percentile(samplesMs, 95),
		P99:    percentile(samplesMs, 99),
		StdDev: stddev,
	}
}

// percentile calculates the nth percentile from sorted data with linear
// interpolation.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// GetThroughput returns the throughput in commands/second since the collector
// was created or last reset.
func (m *Metrics) GetThroughput() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.commandsCommitted.Load()) / elapsed
}

// Report contains all collected metrics.
type Report struct {
	ClusterSize int       `json:"cluster_size"`
	Duration    float64   `json:"duration_seconds"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`

	CommandsCommitted uint64  `json:"commands_committed"`
	ThroughputCmdSec  float64 `json:"throughput_cmd_per_sec"`

	CommandLatency LatencyStats `json:"command_latency"`

	AppendEntriesCount uint64 `json:"append_entries_count"`
	RequestVoteCount   uint64 `json:"request_vote_count"`
	HeartbeatCount     uint64 `json:"heartbeat_count"`

	ElectionCount uint64       `json:"election_count"`
	ElectionStats LatencyStats `json:"election_stats"`
}

// GetReport generates a performance report over everything collected so far.
func (m *Metrics) GetReport(clusterSize int) Report {
	endTime := time.Now()

	return Report{
		ClusterSize:        clusterSize,
		Duration:           endTime.Sub(m.startTime).Seconds(),
		StartTime:          m.startTime,
		EndTime:            endTime,
		CommandsCommitted:  m.commandsCommitted.Load(),
		ThroughputCmdSec:   m.GetThroughput(),
		CommandLatency:     m.GetLatencyStats(),
		AppendEntriesCount: m.appendEntriesCount.Load(),
		RequestVoteCount:   m.requestVoteCount.Load(),
		HeartbeatCount:     m.heartbeatCount.Load(),
		ElectionCount:      m.electionCount.Load(),
		ElectionStats:      m.GetElectionStats(),
	}
}

// SaveJSON writes the report to a JSON file.
func (r *Report) SaveJSON(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

// Reset clears all collected metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.commandLatencies = make([]time.Duration, 0, 10000)
	m.startTime = time.Now()
	m.mu.Unlock()

	m.electionMu.Lock()
	m.electionDuration = make([]time.Duration, 0, 100)
	m.electionMu.Unlock()

	m.appendEntriesCount.Store(0)
	m.requestVoteCount.Store(0)
	m.heartbeatCount.Store(0)
	m.commandsCommitted.Store(0)
	m.electionCount.Store(0)
}
