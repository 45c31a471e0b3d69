package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/archive"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/deadlock"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/inbox"
	"github.com/cuemby/burrow/pkg/lifecycle"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/org"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/workspace"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - Task lifecycle engine for hierarchical agents",
	Long: `Burrow coordinates the working state of autonomous agents organized
in a reporting hierarchy: durable task records with optimistic concurrency,
a mirrored workspace directory per task, inbox notifications, deadlock
detection over blocked tasks, and archival of finished work.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(reconcileCmd)
}

// engine wires the full component stack for a command invocation
type engine struct {
	cfg      *config.Config
	store    store.Store
	resolver *paths.Resolver
	dir      *org.Directory
	bus      *inbox.Bus
	coord    *lifecycle.Coordinator
	archiver *archive.Archiver
	sweeper  *deadlock.Sweeper
	broker   *events.Broker
	logger   zerolog.Logger
}

func openEngine() (*engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON, Output: os.Stderr})

	s, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	resolver := paths.NewResolver(cfg.WorkspaceRoot)
	dir := org.NewDirectory(s, logger)
	broker := events.NewBroker()
	broker.Start()
	bus := inbox.NewBus(s, dir, resolver, broker, logger)
	ws := workspace.NewMaterializer(resolver, logger)

	return &engine{
		cfg:      cfg,
		store:    s,
		resolver: resolver,
		dir:      dir,
		bus:      bus,
		coord:    lifecycle.NewCoordinator(s, ws, bus, dir, resolver, broker, logger),
		archiver: archive.NewArchiver(s, ws, resolver, broker, logger),
		sweeper:  deadlock.NewSweeper(s, bus, broker, logger),
		broker:   broker,
		logger:   logger,
	}, nil
}

func (e *engine) Close() {
	e.broker.Stop()
	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Store close failed")
	}
}
