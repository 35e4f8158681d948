package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend/factory"
)

func newBackendsCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the vector and text backends this build supports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			f := factory.New(cfg, zap.NewNop())
			vector, text := f.AvailableVectorKinds(), f.AvailableTextKinds()

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{"vector": vector, "text": text})
			}
			fmt.Fprintln(out, "vector:")
			for _, k := range vector {
				fmt.Fprintf(out, "  %s\n", k)
			}
			fmt.Fprintln(out, "text:")
			for _, k := range text {
				fmt.Fprintf(out, "  %s\n", k)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
