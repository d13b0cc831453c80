package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := buildRegistry(slog.Default())
		if err != nil {
			return err
		}

		for _, id := range registry.List() {
			rt, _ := registry.Resolve(id)
			fmt.Printf("%-12s %s\n", id, rt.Name())
		}
		return nil
	},
}
