package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

var (
	statusOwner string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent tasks",
	Long: `Display the owner's recent tasks, newest first.

Shows:
  - Task ID, agent, and status
  - Progress percentage and current node for running tasks
  - Result or error summary for finished tasks`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusOwner, "owner", "local", "Owner ID to list tasks for")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Maximum number of tasks to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer db.Close()

	tasks, err := db.ListByOwner(statusOwner, statusLimit)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Printf("No tasks for owner %q. Run 'harmonia submit <command>' to create one.\n", statusOwner)
		return nil
	}

	for _, task := range tasks {
		printTask(task)
	}
	return nil
}

func printTask(task *models.Task) {
	fmt.Printf("%s  %s  %s  %s\n",
		task.ID[:8],
		statusColor(task.Status).Sprintf("%-11s", task.Status),
		task.AgentID,
		task.CreatedAt.Local().Format(time.DateTime),
	)

	switch task.Status {
	case models.TaskStatusInProgress:
		fmt.Printf("          %d%% (%s)\n", task.ProgressPercentage, task.CurrentNode)
	case models.TaskStatusToolCall:
		fmt.Printf("          consulting %s\n", task.ConsultationTargetID)
	case models.TaskStatusCompleted:
		if task.Result != nil {
			fmt.Printf("          %s\n", firstLine(*task.Result))
		}
	case models.TaskStatusFailed:
		if task.ErrorMessage != nil {
			fmt.Printf("          %s\n", firstLine(*task.ErrorMessage))
		}
	}
}

func statusColor(status models.TaskStatus) *color.Color {
	switch status {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusInProgress, models.TaskStatusToolCall:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
