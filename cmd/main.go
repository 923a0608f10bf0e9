package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "driftwatch",
		Short: "Watch a JSON API for response schema drift",
		Long: `driftwatch probes a third-party JSON API on a schedule, records the
structural schema of every response and reports fields that appear,
disappear or change type. Outbound calls are rate limited and guarded by
a circuit breaker per endpoint.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./config/config.yaml or ./config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	root.AddCommand(
		newServeCmd(opts),
		newProbeCmd(opts),
		newHistoryCmd(opts),
		newSchemaCmd(opts),
		newDiffCmd(opts),
		newClearCmd(opts),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
