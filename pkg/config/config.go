// Package config loads Meridian's YAML configuration surface: the named
// timeouts, intervals, and strategy selections that §6 of the coordination
// design calls out (heartbeat_timeout, election_timeout_range, and so on).
// A zero-value Config has zero durations and is not a usable default;
// Default returns the complete, sane defaults so a node can start
// without a config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PlacementStrategy selects how ShardMap assigns keys to shards.
type PlacementStrategy string

const (
	PlacementHash  PlacementStrategy = "hash"
	PlacementRange PlacementStrategy = "range"
)

// ReplicationStrategy selects how RegionReplicator acknowledges writes.
type ReplicationStrategy string

const (
	ReplicationSync     ReplicationStrategy = "synchronous"
	ReplicationAsync    ReplicationStrategy = "asynchronous"
	ReplicationSemiSync ReplicationStrategy = "semi_synchronous"
)

// ConflictStrategy selects how ConflictResolver reconciles concurrent
// writes to the same key.
type ConflictStrategy string

const (
	ConflictLatestTimestamp ConflictStrategy = "latest_timestamp"
	ConflictLWW             ConflictStrategy = "lww_register"
	ConflictMultiValue      ConflictStrategy = "multi_value"
	ConflictCustom          ConflictStrategy = "custom"
)

// Config is Meridian's full named configuration surface. Durations are
// stored as time.Duration and marshal to/from YAML via a string form
// (e.g. "30s") through the Duration alias below.
type Config struct {
	HeartbeatTimeout        Duration             `yaml:"heartbeat_timeout"`
	ElectionTimeoutMin       Duration            `yaml:"election_timeout_min"`
	ElectionTimeoutMax       Duration            `yaml:"election_timeout_max"`
	LeaderHeartbeatInterval Duration             `yaml:"leader_heartbeat_interval"`
	PrepareTimeout          Duration             `yaml:"prepare_timeout"`
	CommitAbortTimeout      Duration             `yaml:"commit_abort_timeout"`
	SagaTimeout             Duration             `yaml:"saga_timeout"`
	RegionHeartbeatInterval Duration             `yaml:"region_heartbeat_interval"`
	QueryTimeout            Duration             `yaml:"query_timeout"`
	ScalerEvaluationInterval Duration            `yaml:"scaler_evaluation_interval"`
	RebalancingThreshold    float64              `yaml:"rebalancing_threshold"`
	ReplicationStrategy     ReplicationStrategy  `yaml:"replication_strategy"`
	ConflictResolution      ConflictStrategy     `yaml:"conflict_resolution_strategy"`
	PlacementStrategy       PlacementStrategy    `yaml:"placement_strategy"`
	ShardCount              int                  `yaml:"shard_count"`
	LogLevel                string               `yaml:"log_level"`
	LogJSON                 bool                 `yaml:"log_json"`
	DataDir                 string               `yaml:"data_dir"`
}

// Duration is a time.Duration that marshals to/from YAML as a Go duration
// string ("30s", "150ms") instead of a bare integer of nanoseconds.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns Meridian's out-of-the-box configuration, matching the
// defaults named throughout the coordination design (30s heartbeat
// timeout, 150-300ms election range, 50ms leader heartbeat, and so on).
func Default() Config {
	return Config{
		HeartbeatTimeout:         Duration(30 * time.Second),
		ElectionTimeoutMin:       Duration(150 * time.Millisecond),
		ElectionTimeoutMax:       Duration(300 * time.Millisecond),
		LeaderHeartbeatInterval:  Duration(50 * time.Millisecond),
		PrepareTimeout:           Duration(5 * time.Second),
		CommitAbortTimeout:       Duration(3 * time.Second),
		SagaTimeout:              Duration(60 * time.Second),
		RegionHeartbeatInterval:  Duration(1 * time.Second),
		QueryTimeout:             Duration(10 * time.Second),
		ScalerEvaluationInterval: Duration(5 * time.Second),
		RebalancingThreshold:     0.20,
		ReplicationStrategy:      ReplicationAsync,
		ConflictResolution:       ConflictLatestTimestamp,
		PlacementStrategy:        PlacementHash,
		ShardCount:               16,
		LogLevel:                 "info",
		LogJSON:                  true,
		DataDir:                  "./data",
	}
}

// Load reads a YAML config file and overlays it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
