package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/angeloszaimis/driftwatch/internal/schema"
	"github.com/angeloszaimis/driftwatch/internal/store"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		resource string
		limit    int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "history <endpoint>",
		Short: "List stored schema versions, or stored responses with --resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, formatTable, formatJSON); err != nil {
				return err
			}

			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			endpoint := args[0]

			if resource != "" {
				responses, err := a.store.ListResponses(ctx, endpoint, resource)
				if err != nil {
					return err
				}
				if limit > 0 && len(responses) > limit {
					responses = responses[:limit]
				}
				if format == formatJSON {
					return writeJSON(out, responses)
				}
				printResponses(out, responses)
				return nil
			}

			// One extra version lets the oldest row shown be compared too.
			fetch := limit
			if fetch > 0 {
				fetch++
			}
			versions, err := a.store.ListSchemas(ctx, endpoint, fetch)
			if err != nil {
				return err
			}

			shown := len(versions)
			if limit > 0 && shown > limit {
				shown = limit
			}
			if format == formatJSON {
				return writeJSON(out, versions[:shown])
			}
			printVersions(out, endpoint, versions, shown)
			return nil
		},
	}

	cmd.Flags().StringVar(&resource, "resource", "", "List stored responses for this resource id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows to show (0 for all)")
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table|json")
	return cmd
}

// printVersions renders the first shown versions, newest first, each
// summarised against the version stored before it.
func printVersions(w io.Writer, endpoint string, versions []store.SchemaRecord, shown int) {
	if len(versions) == 0 {
		fmt.Fprintf(w, "No schema versions stored for %s\n", endpoint)
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Version", "Stored", "Fields", "Changes"})
	for i, v := range versions[:shown] {
		changes := "baseline"
		if i+1 < len(versions) {
			changes = schema.Compare(v.Snapshot, versions[i+1].Snapshot).String()
		}
		t.AppendRow(table.Row{v.ID, v.CreatedAt.Local().Format(time.DateTime), v.Snapshot.Len(), changes})
	}
	t.Render()
}

func printResponses(w io.Writer, responses []store.ResponseRecord) {
	if len(responses) == 0 {
		fmt.Fprintln(w, "No responses stored")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Resource", "Stored", "Bytes"})
	for _, r := range responses {
		t.AppendRow(table.Row{r.ID, r.ResourceID, r.CreatedAt.Local().Format(time.DateTime), len(r.Payload)})
	}
	t.Render()
}
