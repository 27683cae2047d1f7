// Package config loads and validates the per-consensus JSON config
// files (pow_config.json, hybrid_config.json).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BasePort is the first node's listen port: 127.0.0.1:9000 + node_id.
const BasePort = 9000

// PeerAddr returns the fixed loopback address for nodeID.
func PeerAddr(nodeID int) string {
	return fmt.Sprintf("127.0.0.1:%d", BasePort+nodeID)
}

// PeerTable returns the fixed peer-id -> address map for an n-node
// cluster, excluding selfID.
func PeerTable(n, selfID int) map[int]string {
	peers := make(map[int]string, n-1)
	for i := 0; i < n; i++ {
		if i == selfID {
			continue
		}
		peers[i] = PeerAddr(i)
	}
	return peers
}

// PoWConfig is the contents of pow_config.json.
type PoWConfig struct {
	Difficulty      int   `json:"difficulty"`
	BlockTimeMs     int   `json:"block_time_ms"`
	FinalityDepth   int64 `json:"finality_depth"`
	InitialBalances []int `json:"initial_balances"`
}

// HybridConfig is the contents of hybrid_config.json.
type HybridConfig struct {
	LightDifficulty int     `json:"light_difficulty"`
	BlockTimeMs     int     `json:"block_time_ms"`
	Stakes          []int64 `json:"stakes"`
	LeaderTimeoutMs int     `json:"leader_timeout_ms"`
	FinalityDepth   int64   `json:"finality_depth"`
}

// DefaultPoWConfig matches defaults.
func DefaultPoWConfig() *PoWConfig {
	return &PoWConfig{
		Difficulty:    4,
		BlockTimeMs:   0,
		FinalityDepth: 4,
	}
}

// DefaultHybridConfig matches defaults.
func DefaultHybridConfig() *HybridConfig {
	return &HybridConfig{
		LightDifficulty: 2,
		BlockTimeMs:     0,
		LeaderTimeoutMs: 1000,
		FinalityDepth:   4,
	}
}

// LoadPoW reads and validates pow_config.json from dir.
func LoadPoW(dir string) (*PoWConfig, error) {
	cfg := DefaultPoWConfig()
	if err := loadInto(filepath.Join(dir, "pow_config.json"), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: pow_config.json: %w", err)
	}
	return cfg, nil
}

// LoadHybrid reads and validates hybrid_config.json from dir.
func LoadHybrid(dir string) (*HybridConfig, error) {
	cfg := DefaultHybridConfig()
	if err := loadInto(filepath.Join(dir, "hybrid_config.json"), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: hybrid_config.json: %w", err)
	}
	return cfg, nil
}

func loadInto(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the fields calls out as configuration errors
// that must refuse to start the node.
func (c *PoWConfig) Validate() error {
	if c.Difficulty <= 0 {
		return fmt.Errorf("difficulty must be positive, got %d", c.Difficulty)
	}
	if c.FinalityDepth <= 0 {
		return fmt.Errorf("finality_depth must be positive, got %d", c.FinalityDepth)
	}
	return nil
}

// Validate rejects a negative stake or a zero total stake.
func (c *HybridConfig) Validate() error {
	if c.LightDifficulty <= 0 {
		return fmt.Errorf("light_difficulty must be positive, got %d", c.LightDifficulty)
	}
	if c.LeaderTimeoutMs <= 0 {
		return fmt.Errorf("leader_timeout_ms must be positive, got %d", c.LeaderTimeoutMs)
	}
	if c.FinalityDepth <= 0 {
		return fmt.Errorf("finality_depth must be positive, got %d", c.FinalityDepth)
	}
	if len(c.Stakes) == 0 {
		return fmt.Errorf("stakes must not be empty")
	}
	var total int64
	for i, s := range c.Stakes {
		if s < 0 {
			return fmt.Errorf("stakes[%d] must not be negative, got %d", i, s)
		}
		total += s
	}
	if total == 0 {
		return fmt.Errorf("total stake must be positive")
	}
	return nil
}
