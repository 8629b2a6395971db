package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mikelane/gremlins/internal/pool"
)

// workerCmd represents the hidden worker command the pool launches.
var workerCmd = newWorkerCmd()

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run as a mutation testing worker",
		Long:   "Serve work batches over stdin/stdout. Started by the pool, not by hand.",
		Hidden: true,
		Args:   cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return pool.RunWorker(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
