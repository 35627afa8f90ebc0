// Command letterctl repairs, inspects and renders letter templates offline.
package main

import (
	"fmt"
	"os"

	"SRL-GEN/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	verbose bool
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "letterctl",
		Short:         "Work with .docx letter templates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if c.verbose {
				level = "debug"
			}
			log, err := logger.New(level, "development")
			if err != nil {
				return err
			}
			c.log = log
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log every repair and render step")

	root.AddCommand(
		c.repairCmd(),
		c.placeholdersCmd(),
		c.renderCmd(),
		c.textCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
