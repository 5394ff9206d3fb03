// Package config is the process configuration surface for the raftnode
// and exhauster binaries: a plain struct with defaults, bound to cobra
// flags the way cmd/warren/main.go binds worker-start flags in the
// teacher's companion repo, rather than a separate file format.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rockyard-io/rockyardkv/internal/block"
	"github.com/rockyard-io/rockyardkv/internal/compression"
)

// RaftNodeConfig configures one raftnode process: its identity, data
// directories, and the peers it starts or restarts with.
type RaftNodeConfig struct {
	NodeID      uint64
	DataDir     string
	ListenAddr  string
	MetricsAddr string
	Peers       []uint64
	LogJSON     bool
}

// ExhausterConfig configures one exhauster (compaction engine) process.
type ExhausterConfig struct {
	DataDir                string
	ListenAddr             string
	MetricsAddr            string
	BlockCacheBytes        uint64
	DefaultBlockCapacity   int
	DefaultRestartInterval int
	DefaultBloomFPRate     float64
	DefaultCompression     compression.Type
	ChecksumAlgorithm      block.ChecksumType
	LogJSON                bool
}

// DefaultExhausterConfig returns the baseline an exhauster process starts
// from before flags are applied.
func DefaultExhausterConfig() ExhausterConfig {
	return ExhausterConfig{
		DataDir:                "./data",
		ListenAddr:             ":7070",
		MetricsAddr:            ":9090",
		BlockCacheBytes:        64 << 20,
		DefaultBlockCapacity:   4096,
		DefaultRestartInterval: 16,
		DefaultBloomFPRate:     0.01,
		DefaultCompression:     compression.SnappyCompression,
		ChecksumAlgorithm:      block.ChecksumTypeXXH3,
	}
}

// checksumAlgorithmNames maps the --checksum-algorithm flag's accepted
// values to the block.ChecksumType each one selects.
var checksumAlgorithmNames = map[string]block.ChecksumType{
	"none":     block.ChecksumTypeNone,
	"crc32c":   block.ChecksumTypeCRC32C,
	"xxhash64": block.ChecksumTypeXXHash64,
	"xxh3":     block.ChecksumTypeXXH3,
}

// ParseChecksumAlgorithm resolves a --checksum-algorithm flag value to the
// block.ChecksumType it names.
func ParseChecksumAlgorithm(name string) (block.ChecksumType, error) {
	t, ok := checksumAlgorithmNames[name]
	if !ok {
		return 0, fmt.Errorf("config: unknown checksum algorithm %q", name)
	}
	return t, nil
}

// checksumFlag adapts a *block.ChecksumType to pflag.Value so
// --checksum-algorithm can bind directly into ExhausterConfig the same way
// the other *Var-bound fields do.
type checksumFlag struct{ dst *block.ChecksumType }

func (f checksumFlag) String() string {
	for name, t := range checksumAlgorithmNames {
		if t == *f.dst {
			return name
		}
	}
	return "xxh3"
}

func (f checksumFlag) Set(s string) error {
	t, err := ParseChecksumAlgorithm(s)
	if err != nil {
		return err
	}
	*f.dst = t
	return nil
}

func (f checksumFlag) Type() string { return "string" }

// DefaultRaftNodeConfig returns the baseline a raftnode process starts
// from before flags are applied.
func DefaultRaftNodeConfig() RaftNodeConfig {
	return RaftNodeConfig{
		DataDir:     "./data",
		ListenAddr:  ":7071",
		MetricsAddr: ":9091",
	}
}

// BindRaftNodeFlags registers cmd's flags into cfg, binding each flag
// directly to its field with the *Var form (Uint64Var, StringVar, ...).
func BindRaftNodeFlags(cmd *cobra.Command, cfg *RaftNodeConfig) {
	cmd.Flags().Uint64Var(&cfg.NodeID, "node-id", cfg.NodeID, "unique id of this raft node")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for raft log and SST data")
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to accept raft transport connections on")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve /metrics on")
	cmd.Flags().Uint64SliceVar(&cfg.Peers, "peers", nil, "initial voter peer ids (Initialize mode only)")
	cmd.Flags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit logs as JSON instead of console format")
}

// BindExhausterFlags registers cmd's flags into cfg.
func BindExhausterFlags(cmd *cobra.Command, cfg *ExhausterConfig) {
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory SST data is stored under")
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "compaction RPC address, logged at startup (no RPC service listens on it)")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve /metrics on")
	cmd.Flags().Uint64Var(&cfg.BlockCacheBytes, "block-cache-bytes", cfg.BlockCacheBytes, "shared block cache capacity in bytes")
	cmd.Flags().Var(checksumFlag{&cfg.ChecksumAlgorithm}, "checksum-algorithm", "block checksum algorithm: none, crc32c, xxhash64, or xxh3")
	cmd.Flags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit logs as JSON instead of console format")
}

// Validate checks invariants config.go alone can enforce; deeper checks
// (e.g. watermark regression) live at the call site that has prior state
// to compare against.
func (c RaftNodeConfig) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("config: node-id must be nonzero")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data-dir must be set")
	}
	return nil
}

func (c ExhausterConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data-dir must be set")
	}
	if c.DefaultBloomFPRate <= 0 || c.DefaultBloomFPRate >= 1 {
		return fmt.Errorf("config: bloom false positive rate must be in (0, 1)")
	}
	return nil
}
