package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one deadlock sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.sweeper.Sweep(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Deadlocks detected: %d\n", report.DeadlocksDetected)
		fmt.Printf("Notifications sent: %d\n", report.NotificationsSent)
		for _, cycle := range report.Cycles {
			fmt.Printf("  %s  (%s)\n", strings.Join(cycle.TaskIDs, " -> "), cycle.ThreadID())
		}
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive and compact old completed tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveDays, _ := cmd.Flags().GetInt("archive-days")
		compressDays, _ := cmd.Flags().GetInt("compress-days")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := context.Background()
		archived, err := e.archiver.ArchiveOld(ctx, time.Duration(archiveDays)*24*time.Hour)
		if err != nil {
			return err
		}
		compressed, err := e.archiver.CompressOld(ctx, time.Duration(compressDays)*24*time.Hour)
		if err != nil {
			return err
		}

		fmt.Printf("Archived: %d\n", archived)
		fmt.Printf("Compressed: %d\n", compressed)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair workspace directories from the task store",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		repaired, err := e.coord.Reconcile(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Repaired %d workspace directories\n", repaired)
		return nil
	},
}

func init() {
	archiveCmd.Flags().Int("archive-days", 7, "Archive completed tasks older than this many days")
	archiveCmd.Flags().Int("compress-days", 90, "Compact archived tasks older than this many days")
}
