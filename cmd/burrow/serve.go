package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/monitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lifecycle monitor",
	Long: `Run the periodic lifecycle monitor: archival of old completed tasks,
compaction of aged archives, and deadlock sweeps over blocked tasks.
Serves Prometheus metrics while running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		mon := monitor.NewMonitor(e.archiver, e.sweeper, monitor.Options{
			Interval:      e.cfg.Monitor.Interval,
			ArchiveAfter:  e.cfg.ArchiveAfter(),
			CompressAfter: e.cfg.CompressAfter(),
		}, e.logger)
		mon.Start()
		fmt.Println("✓ Lifecycle monitor started")

		collector := metrics.NewCollector(e.store)
		collector.Start()

		errCh := make(chan error, 1)
		if e.cfg.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			go func() {
				if err := http.ListenAndServe(e.cfg.Metrics.Listen, mux); err != nil {
					errCh <- fmt.Errorf("metrics server error: %w", err)
				}
			}()
			fmt.Printf("✓ Metrics on %s/metrics\n", e.cfg.Metrics.Listen)
		}

		// Stream lifecycle events to the console
		sub := e.broker.Subscribe()
		go func() {
			for event := range sub {
				e.logger.Info().
					Str("type", string(event.Type)).
					Str("task_id", event.Metadata["task_id"]).
					Msg(event.Message)
			}
		}()

		fmt.Println()
		fmt.Println("Monitor is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		mon.Stop()
		collector.Stop()
		e.broker.Unsubscribe(sub)

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}
