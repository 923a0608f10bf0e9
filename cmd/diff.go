package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/angeloszaimis/driftwatch/internal/schema"
	"github.com/angeloszaimis/driftwatch/internal/store"
)

func newDiffCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to int64
		format   string
	)

	cmd := &cobra.Command{
		Use:   "diff <endpoint>",
		Short: "Compare two stored schema versions (default: the latest two)",
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

			versions, err := a.store.ListSchemas(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}

			previous, current, err := pickVersions(versions, from, to)
			if err != nil {
				return err
			}

			diff := schema.Compare(current.Snapshot, previous.Snapshot)
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), diff)
			}
			printDiff(cmd.OutOrStdout(), previous.ID, current.ID, diff)
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "Older version id (default: second newest)")
	cmd.Flags().Int64Var(&to, "to", 0, "Newer version id (default: newest)")
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table|json")
	return cmd
}

// pickVersions resolves the versions to compare; versions are newest first
// and zero ids select the defaults.
func pickVersions(versions []store.SchemaRecord, from, to int64) (store.SchemaRecord, store.SchemaRecord, error) {
	find := func(id int64) (store.SchemaRecord, error) {
		for _, v := range versions {
			if v.ID == id {
				return v, nil
			}
		}
		return store.SchemaRecord{}, fmt.Errorf("schema version %d not found", id)
	}

	var current, previous store.SchemaRecord
	var err error

	switch {
	case to != 0:
		if current, err = find(to); err != nil {
			return previous, current, err
		}
	case len(versions) > 0:
		current = versions[0]
	default:
		return previous, current, fmt.Errorf("no schema versions stored")
	}

	switch {
	case from != 0:
		if previous, err = find(from); err != nil {
			return previous, current, err
		}
	default:
		found := false
		for _, v := range versions {
			if v.ID < current.ID {
				previous, found = v, true
				break
			}
		}
		if !found {
			return previous, current, fmt.Errorf("version %d has no earlier version to compare with", current.ID)
		}
	}

	return previous, current, nil
}

func printDiff(w io.Writer, fromID, toID int64, diff schema.Diff) {
	fmt.Fprintf(w, "Version %d -> %d: %s\n", fromID, toID, diff)
	if !diff.HasChanges() {
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Change", "Path", "Old type", "New type"})
	for _, c := range diff.All() {
		t.AppendRow(table.Row{c.Kind, c.Path, c.OldType, c.NewType})
	}
	t.Render()
}
