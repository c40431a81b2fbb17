package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"consensus-engine/internal/raft"
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "50ms" or "1.5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PeerConfig identifies one remote cluster member.
type PeerConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Config is the on-disk configuration of a single server.
type Config struct {
	// ID of this server. Generated when empty.
	ID string `yaml:"id"`
	// ListenAddr is the address the gRPC server binds to.
	ListenAddr string `yaml:"listen_addr"`
	// DataDir holds the bbolt log database.
	DataDir string `yaml:"data_dir"`
	// Peers lists every other cluster member.
	Peers []PeerConfig `yaml:"peers"`

	HeartbeatInterval  Duration `yaml:"heartbeat_interval"`
	ElectionTimeoutMin Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax Duration `yaml:"election_timeout_max"`

	// AcceptTimeout bounds how long a command submission waits for majority
	// replication. Unset selects the engine default.
	AcceptTimeout Duration `yaml:"accept_timeout"`
	// AcceptWaitForever opts out of the Accept bound entirely. The caller
	// then carries full responsibility for its own timeout.
	AcceptWaitForever bool `yaml:"accept_wait_forever"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies a node cannot run
// with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	for i, peer := range c.Peers {
		if peer.ID == "" {
			return fmt.Errorf("peer %d: id is required", i)
		}
		if peer.Address == "" {
			return fmt.Errorf("peer %s: address is required", peer.ID)
		}
	}
	if c.ElectionTimeoutMin != 0 && c.ElectionTimeoutMax != 0 &&
		c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		return fmt.Errorf("election_timeout_max must not be below election_timeout_min")
	}
	if c.HeartbeatInterval != 0 && c.ElectionTimeoutMin != 0 &&
		c.HeartbeatInterval.Std() >= c.ElectionTimeoutMin.Std() {
		// Section 5.6: broadcast time must stay well below the election
		// timeout or followers keep starting spurious elections.
		return fmt.Errorf("heartbeat_interval must be below election_timeout_min")
	}
	return nil
}

// Options maps the configuration onto the engine's timing options.
func (c *Config) Options() raft.Options {
	opts := raft.Options{
		HeartbeatInterval:  c.HeartbeatInterval.Std(),
		ElectionTimeoutMin: c.ElectionTimeoutMin.Std(),
		ElectionTimeoutMax: c.ElectionTimeoutMax.Std(),
		AcceptTimeout:      c.AcceptTimeout.Std(),
	}
	if c.AcceptWaitForever {
		opts.AcceptTimeout = -1
	}
	return opts
}
