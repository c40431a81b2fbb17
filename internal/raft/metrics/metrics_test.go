package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.RecordAppendEntries()
	m.RecordAppendEntries()
	m.RecordRequestVote()
	m.RecordHeartbeat()
	m.RecordHeartbeat()
	m.RecordHeartbeat()
	m.RecordElection()
	m.RecordCommandCommitted()

	report := m.GetReport(3)
	assert.Equal(t, uint64(2), report.AppendEntriesCount)
	assert.Equal(t, uint64(1), report.RequestVoteCount)
	assert.Equal(t, uint64(3), report.HeartbeatCount)
	assert.Equal(t, uint64(1), report.ElectionCount)
	assert.Equal(t, uint64(1), report.CommandsCommitted)
	assert.Equal(t, 3, report.ClusterSize)
}

func TestMetrics_LatencyStats(t *testing.T) {
	t.Run("empty collector", func(t *testing.T) {
		m := NewMetrics()
		assert.Zero(t, m.GetLatencyStats().Count)
	})

	t.Run("percentiles are ordered", func(t *testing.T) {
		m := NewMetrics()
		for i := 1; i <= 100; i++ {
			m.RecordCommandLatency(time.Duration(i) * time.Millisecond)
		}

		stats := m.GetLatencyStats()
		assert.Equal(t, 100, stats.Count)
		assert.Equal(t, float64(1), stats.Min)
		assert.Equal(t, float64(100), stats.Max)
		assert.LessOrEqual(t, stats.P50, stats.P95)
		assert.LessOrEqual(t, stats.P95, stats.P99)
		assert.InDelta(t, 50.5, stats.Mean, 0.01)
	})

	t.Run("single sample", func(t *testing.T) {
		m := NewMetrics()
		m.RecordCommandLatency(10 * time.Millisecond)

		stats := m.GetLatencyStats()
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, stats.Min, stats.Max)
		assert.Equal(t, stats.P50, stats.P99)
		assert.Zero(t, stats.StdDev)
	})
}

func TestMetrics_ElectionStats(t *testing.T) {
	m := NewMetrics()
	m.RecordElectionDuration(20 * time.Millisecond)
	m.RecordElectionDuration(40 * time.Millisecond)

	stats := m.GetElectionStats()
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 30, stats.Mean, 0.01)
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordCommandCommitted()
				m.RecordCommandLatency(time.Millisecond)
				m.RecordHeartbeat()
			}
		}()
	}
	wg.Wait()

	report := m.GetReport(1)
	assert.Equal(t, uint64(1000), report.CommandsCommitted)
	assert.Equal(t, uint64(1000), report.HeartbeatCount)
	assert.Equal(t, 1000, report.CommandLatency.Count)
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordCommandCommitted()
	m.RecordCommandLatency(time.Millisecond)
	m.RecordElection()

	m.Reset()

	report := m.GetReport(1)
	assert.Zero(t, report.CommandsCommitted)
	assert.Zero(t, report.ElectionCount)
	assert.Zero(t, report.CommandLatency.Count)
}

func TestReport_SaveJSON(t *testing.T) {
	m := NewMetrics()
	m.RecordCommandCommitted()
	report := m.GetReport(3)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.SaveJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Report
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, uint64(1), loaded.CommandsCommitted)
	assert.Equal(t, 3, loaded.ClusterSize)
}
