package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examlens",
		Short:         "Score table analysis orchestrator",
		Long:          `examlens normalizes uploaded score tables and drives per-subject, per-model analysis jobs on remote LLM job services.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newNormalizeCmd(), newSubjectsCmd())
	return root
}
