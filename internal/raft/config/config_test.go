package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "raftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
id: server-1
listen_addr: "localhost:50051"
data_dir: /tmp/raft-data
peers:
  - id: server-2
    address: "localhost:50052"
  - id: server-3
    address: "localhost:50053"
heartbeat_interval: 50ms
election_timeout_min: 150ms
election_timeout_max: 300ms
accept_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server-1", cfg.ID)
	assert.Equal(t, "localhost:50051", cfg.ListenAddr)
	assert.Equal(t, "/tmp/raft-data", cfg.DataDir)
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, "server-2", cfg.Peers[0].ID)
	assert.Equal(t, "localhost:50052", cfg.Peers[0].Address)

	assert.Equal(t, 50*time.Millisecond, cfg.HeartbeatInterval.Std())
	assert.Equal(t, 150*time.Millisecond, cfg.ElectionTimeoutMin.Std())
	assert.Equal(t, 300*time.Millisecond, cfg.ElectionTimeoutMax.Std())
	assert.Equal(t, 5*time.Second, cfg.AcceptTimeout.Std())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "listen_addr: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
listen_addr: "localhost:50051"
heartbeat_interval: banana
`))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("requires a listen address", func(t *testing.T) {
		cfg := &Config{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("requires peer ids and addresses", func(t *testing.T) {
		cfg := &Config{ListenAddr: "localhost:50051", Peers: []PeerConfig{{ID: "server-2"}}}
		assert.Error(t, cfg.Validate())

		cfg = &Config{ListenAddr: "localhost:50051", Peers: []PeerConfig{{Address: "localhost:50052"}}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects an inverted election timeout range", func(t *testing.T) {
		cfg := &Config{
			ListenAddr:         "localhost:50051",
			ElectionTimeoutMin: Duration(300 * time.Millisecond),
			ElectionTimeoutMax: Duration(150 * time.Millisecond),
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a heartbeat at or above the election timeout", func(t *testing.T) {
		cfg := &Config{
			ListenAddr:         "localhost:50051",
			HeartbeatInterval:  Duration(150 * time.Millisecond),
			ElectionTimeoutMin: Duration(150 * time.Millisecond),
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("accepts a minimal config", func(t *testing.T) {
		cfg := &Config{ListenAddr: "localhost:50051"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestOptions(t *testing.T) {
	t.Run("maps durations", func(t *testing.T) {
		cfg := &Config{
			HeartbeatInterval:  Duration(20 * time.Millisecond),
			ElectionTimeoutMin: Duration(100 * time.Millisecond),
			ElectionTimeoutMax: Duration(200 * time.Millisecond),
			AcceptTimeout:      Duration(time.Second),
		}
		opts := cfg.Options()
		assert.Equal(t, 20*time.Millisecond, opts.HeartbeatInterval)
		assert.Equal(t, 100*time.Millisecond, opts.ElectionTimeoutMin)
		assert.Equal(t, 200*time.Millisecond, opts.ElectionTimeoutMax)
		assert.Equal(t, time.Second, opts.AcceptTimeout)
	})

	t.Run("wait-forever overrides the accept timeout", func(t *testing.T) {
		cfg := &Config{AcceptTimeout: Duration(time.Second), AcceptWaitForever: true}
		assert.Equal(t, time.Duration(-1), cfg.Options().AcceptTimeout)
	})
}
