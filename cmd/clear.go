package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(opts *rootOptions) *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored responses; schema versions are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			n, err := a.store.ClearResponses(cmd.Context(), endpoint)
			if err != nil {
				return err
			}

			scope := "all endpoints"
			if endpoint != "" {
				scope = endpoint
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stored response(s) for %s\n", n, scope)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Only clear responses of this endpoint")
	return cmd
}
