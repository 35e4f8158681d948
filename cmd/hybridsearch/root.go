package main

import (
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/hybridsearch/internal/config"
	"github.com/kailas-cloud/hybridsearch/internal/version"
)

type rootFlags struct {
	env        string
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "hybridsearch",
		Short: "Hybrid vector + full-text retrieval service",
		Long: `hybridsearch runs a vector search engine and a full-text engine side by side,
fuses their results with weighted scores and optionally reranks them with a
cross-encoder.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("hybridsearch {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.env, "env", config.GetEnv(), "Environment (local, docker, prod, test)")
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Explicit config file (overrides --env lookup)")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newCheckCmd(flags))
	cmd.AddCommand(newBackendsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (f *rootFlags) load() (config.Config, error) {
	if f.configPath != "" {
		return config.LoadFile(f.configPath)
	}
	return config.Load(f.env)
}
