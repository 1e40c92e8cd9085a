package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockberries/promiseberry/config"
	"github.com/blockberries/promiseberry/engine"
	"github.com/blockberries/promiseberry/node"
	"github.com/blockberries/promiseberry/transport"
	"github.com/blockberries/promiseberry/types"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine",
	Long: `Start the Promiseberry engine with the specified configuration.

The engine will run until interrupted (Ctrl+C) or receives a
termination signal.

Example:
  promiseberry start --config config.toml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	// The in-process loopback transport carries the event log that backs
	// oracle validation. A deployment with real peers swaps this out.
	net := transport.NewNetwork()
	log := net.EventLog()

	n, err := node.New(cfg, engine.WithOracle(log), engine.WithRecorder(log))
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	n.BindTransport(net.Join(
		types.Origin(cfg.Node.Origin),
		types.Principal(cfg.Node.Principal),
	))

	n.Logger().Info("engine running",
		"origin", cfg.Node.Origin,
		"store", cfg.Store.Backend,
		"version", Version,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	n.Logger().Info("received signal, shutting down", "signal", sig.String())

	if err := n.Stop(); err != nil {
		return fmt.Errorf("stopping node: %w", err)
	}
	return nil
}
