// Command raftnode prepares one Raft Worker: it opens the local log store,
// serves Prometheus metrics and builds a raftworker.Config that has no FSM
// or Network. No worker is constructed or run; the process waits for a
// shutdown signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rockyard-io/rockyardkv/internal/config"
	"github.com/rockyard-io/rockyardkv/internal/raftlog"
	"github.com/rockyard-io/rockyardkv/internal/raftworker"
	"github.com/rockyard-io/rockyardkv/internal/vfs"
	"github.com/rockyard-io/rockyardkv/pkg/log"
	"github.com/rockyard-io/rockyardkv/pkg/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "raftnode",
	Short: "Run a single Raft Worker",
}

func main() {
	cfg := config.DefaultRaftNodeConfig()
	config.BindRaftNodeFlags(rootCmd, &cfg)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cfg)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.RaftNodeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(log.Config{JSONOutput: cfg.LogJSON})
	logger = log.WithGroup(logger, cfg.NodeID, 0)

	store, err := raftlog.Open(raftlog.Options{
		FS:            vfs.Default(),
		Dir:           cfg.DataDir,
		SegmentNumber: 1,
		Sync:          raftlog.Sync,
	})
	if err != nil {
		return fmt.Errorf("open raft log: %w", err)
	}

	reg := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	// FSM and Network are external collaborators this binary does not
	// define; a real deployment supplies concrete implementations here.
	// The worker itself is fully wired and ready to drive once they are.
	_ = raftworker.Config{
		Group:   1,
		NodeID:  cfg.NodeID,
		Peers:   cfg.Peers,
		Mode:    raftworker.Initialize,
		Storage: store,
		Logger:  logger,
		Metrics: reg,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}
