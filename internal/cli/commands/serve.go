package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapviz/internal/config"
	"github.com/leapstack-labs/leapviz/internal/metrics"
	"github.com/leapstack-labs/leapviz/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var noMetrics bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference backend as an HTTP server",
		Long: `Serve the upload, translate, execute and dashboard API on server.addr.
Dashboards persist in state_path. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := config.GetLogger(ctx)

			eng, err := openEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			var m *metrics.Collector
			if !noMetrics {
				m = metrics.New(true)
			}
			return server.New(server.Config{
				Backend:        eng,
				Addr:           cfg.Server.Addr,
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
				Logger:         logger,
				Metrics:        m,
			}).Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Disable the /metrics endpoint")
	return cmd
}
