package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the validation configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(auth.ConfigSchema())
		},
	}
}
