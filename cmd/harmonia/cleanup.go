package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

var (
	cleanupOwner  string
	cleanupStatus string
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished tasks",
	Long: `Delete the owner's tasks in a terminal status from the database.

Examples:
  harmonia cleanup                     # Delete completed tasks
  harmonia cleanup --status failed     # Delete failed tasks
  harmonia cleanup --dry-run           # Show what would be deleted`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupOwner, "owner", "local", "Owner ID to clean up")
	cleanupCmd.Flags().StringVar(&cleanupStatus, "status", "completed", "Status to delete: completed or failed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	status := models.TaskStatus(cleanupStatus)
	if !status.IsTerminal() {
		return fmt.Errorf("refusing to delete non-terminal status %q", cleanupStatus)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer db.Close()

	if cleanupDryRun {
		tasks, err := db.ListByOwner(cleanupOwner, 0)
		if err != nil {
			return err
		}
		count := 0
		for _, task := range tasks {
			if task.Status == status {
				fmt.Printf("would delete %s (%s)\n", task.ID, firstLine(task.Command))
				count++
			}
		}
		fmt.Printf("%d task(s) would be deleted\n", count)
		return nil
	}

	ids, err := db.DeleteByStatus(cleanupOwner, status)
	if err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	fmt.Printf("deleted %d %s task(s)\n", len(ids), status)
	return nil
}
