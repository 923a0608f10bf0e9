package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/driftwatch/internal/probe"
)

type probeOutput struct {
	Target string `json:"target"`
	probe.Result
	Error string `json:"error,omitempty"`
}

func newProbeCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "probe <endpoint> [resource...]",
		Short: "Probe an endpoint once and report schema changes",
		Long: `Fetch each resource of an endpoint once, compare its schema with the
latest stored version and store a new version when it changed. Without
resource arguments the resources configured for the endpoint are used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, formatTable, formatJSON); err != nil {
				return err
			}

			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			targets, err := probeTargets(a, args[0], args[1:])
			if err != nil {
				return err
			}

			outputs, failed := runProbes(cmd.Context(), a.pipeline, targets)

			out := cmd.OutOrStdout()
			if format == formatJSON {
				if err := writeJSON(out, outputs); err != nil {
					return err
				}
			} else {
				printProbeOutputs(out, outputs)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, len(targets))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table|json")
	return cmd
}

func probeTargets(a *app, endpoint string, resources []string) ([]probe.Target, error) {
	if len(resources) == 0 {
		ep, ok := a.cfg.Endpoint(endpoint)
		if !ok || len(ep.Resources) == 0 {
			return nil, fmt.Errorf("endpoint %q has no configured resources; pass one explicitly", endpoint)
		}
		resources = ep.Resources
	}

	targets := make([]probe.Target, 0, len(resources))
	for _, id := range resources {
		targets = append(targets, probe.Target{Endpoint: endpoint, ResourceID: id})
	}
	return targets, nil
}

// runProbes probes targets in order. Skipped probes are not failures.
func runProbes(ctx context.Context, p probe.Prober, targets []probe.Target) ([]probeOutput, int) {
	outputs := make([]probeOutput, 0, len(targets))
	failed := 0

	for _, t := range targets {
		result, err := p.Probe(ctx, t)
		o := probeOutput{Target: t.String(), Result: result}
		if err != nil {
			o.Error = err.Error()
			if !result.Skipped {
				failed++
			}
		}
		outputs = append(outputs, o)
	}

	return outputs, failed
}

func printProbeOutputs(w io.Writer, outputs []probeOutput) {
	for _, o := range outputs {
		switch {
		case o.Skipped:
			fmt.Fprintf(w, "%s: skipped, %s\n", o.Target, o.Error)
		case o.Error != "":
			fmt.Fprintf(w, "%s: failed, %s\n", o.Target, o.Error)
		case o.Baseline:
			fmt.Fprintf(w, "%s: baseline schema stored (%d fields)\n", o.Target, o.Snapshot.Len())
		default:
			fmt.Fprintf(w, "%s: %s\n", o.Target, o.Diff)
			for _, change := range o.Diff.All() {
				fmt.Fprintf(w, "  %s\n", change)
			}
		}
	}
}
