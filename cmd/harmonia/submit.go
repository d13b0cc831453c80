package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harmonia-ai/harmonia/internal/dispatch"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

var (
	submitOwner    string
	submitAgent    string
	submitPriority string
	submitThread   string
)

var submitCmd = &cobra.Command{
	Use:   "submit <command text>",
	Short: "Queue a command for execution",
	Long: `Create a task for the command and admit it into the queue.

The task is created in the queued state; a running 'harmonia serve' process
picks it up in priority order. FIFO order is preserved within a priority.

Examples:
  harmonia submit "summarize the quarterly report"
  harmonia submit --agent researcher --priority high "latest Go release notes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitOwner, "owner", "local", "Owner ID the task belongs to")
	submitCmd.Flags().StringVar(&submitAgent, "agent", "assistant", "Target agent ID")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "normal", "Priority: low, normal, high, urgent")
	submitCmd.Flags().StringVar(&submitThread, "thread", "", "Originating thread ID")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	priority, err := models.ParsePriority(submitPriority)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	task, err := a.service.Submit(dispatch.Submission{
		OwnerID:  submitOwner,
		ThreadID: submitThread,
		AgentID:  submitAgent,
		Command:  strings.Join(args, " "),
		Priority: priority,
	})
	if err != nil {
		return err
	}

	fmt.Printf("queued task %s (agent %s, priority %s)\n", task.ID, task.AgentID, priority)
	return nil
}
