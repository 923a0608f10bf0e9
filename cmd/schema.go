package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/driftwatch/internal/store"
)

type schemaDocument struct {
	Endpoint string            `yaml:"endpoint"`
	Version  int64             `yaml:"version"`
	StoredAt time.Time         `yaml:"stored_at"`
	Fields   map[string]string `yaml:"fields"`
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "schema <endpoint>",
		Short: "Show the latest stored schema of an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, formatTable, formatJSON, formatYAML); err != nil {
				return err
			}

			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			record, err := a.store.LatestSchema(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("no schema stored for endpoint %q", args[0])
			}

			return writeSchema(cmd.OutOrStdout(), record, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table|json|yaml")
	return cmd
}

func writeSchema(w io.Writer, record *store.SchemaRecord, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, record)

	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(schemaDocument{
			Endpoint: record.Endpoint,
			Version:  record.ID,
			StoredAt: record.CreatedAt,
			Fields:   record.Snapshot.Map(),
		}); err != nil {
			return err
		}
		return enc.Close()

	default:
		// A table title would wrap to the width of the narrow columns.
		fmt.Fprintf(w, "%s (version %d)\n", record.Endpoint, record.ID)
		t := newTable(w)
		t.AppendHeader(table.Row{"Path", "Type"})
		for _, path := range record.Snapshot.Paths() {
			typ, _ := record.Snapshot.Type(path)
			t.AppendRow(table.Row{path, typ})
		}
		t.Render()
		return nil
	}
}
