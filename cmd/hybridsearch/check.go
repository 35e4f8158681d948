package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend/factory"
	logpkg "github.com/kailas-cloud/hybridsearch/internal/logger"
	"github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

type checkReport struct {
	VectorBackend string            `json:"vector_backend"`
	TextBackend   string            `json:"text_backend"`
	Valid         bool              `json:"valid"`
	Status        string            `json:"status,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	var (
		probe   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configured backend pair",
		Long: `Validate the configured vector/text backend pair without starting the server.
With --probe the backends are initialized and health-checked as well.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			report := checkReport{
				VectorBackend: cfg.Search.VectorBackend,
				TextBackend:   cfg.Search.TextBackend,
			}
			f := factory.New(cfg, zap.NewNop())
			if err := f.ValidatePair(cfg.Search.VectorBackend, cfg.Search.TextBackend); err != nil {
				return err
			}
			report.Valid = true

			if probe {
				logger, err := logpkg.NewLogger(flags.env, cfg.Logging.Level)
				if err != nil {
					return fmt.Errorf("create logger: %w", err)
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				a, err := buildApp(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer a.Close()

				h := a.health.Check(ctx)
				report.Status = string(h.Status)
				report.Checks = make(map[string]string, len(h.Checks))
				for name, res := range h.Checks {
					report.Checks[name] = string(res)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if report.Status == string(search.Unhealthy) {
				return fmt.Errorf("backend pair is unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Initialize backends and run health checks")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Probe timeout")

	return cmd
}
