package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/orchestrator"
	"github.com/leapstack-labs/leapviz/pkg/viewstate"
)

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	var (
		data        dataFlags
		sqlMode     bool
		saveAs      string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the loaded dataset",
		Long: `Translate a natural-language question to SQL, run it and pick a chart.

Questions that are already SQL run as-is. Natural-language questions need an
LLM API key (llm.api_key, default $OPENAI_API_KEY).

With the in-process backend the dataset lives only for this command, so load
one with --data or --demo.`,
		Example: `  leapviz ask --demo "SELECT region, SUM(revenue) FROM demo_sales GROUP BY 1"
  leapviz ask --data sales.csv "monthly revenue by region"
  leapviz ask --sql "SELECT count(*) FROM sales" --save "Row count"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			unsubscribe := s.store.Subscribe(progressLogger(s))
			defer unsubscribe()

			if _, err := data.load(ctx, s); err != nil {
				return explain(err)
			}

			question := strings.Join(args, " ")
			var ans *orchestrator.Answer
			if sqlMode {
				ans, err = s.orch.RunSQL(ctx, question, "")
			} else {
				ans, err = s.orch.Ask(ctx, question)
			}
			if err != nil {
				return explain(err)
			}

			format := outputFormat(cmd)
			if err := renderAnswer(cmd.OutOrStdout(), ans, format); err != nil {
				return err
			}

			if saveAs != "" {
				d, err := s.orch.SaveDashboard(ctx, saveAs)
				if err != nil {
					return explain(err)
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Saved dashboard %q (%s)\n", d.Name, d.ID)
			}

			if metricsFile != "" {
				if err := s.metrics.WriteToTextfile(metricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}
			return nil
		},
	}

	data.register(cmd)
	cmd.Flags().BoolVar(&sqlMode, "sql", false, "Treat the argument as SQL and skip translation")
	cmd.Flags().StringVar(&saveAs, "save", "", "Save the answer as a dashboard with this name")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics for this run to a textfile")
	return cmd
}

// progressLogger logs loading stages as the view state changes.
func progressLogger(s *session) viewstate.Listener {
	var last string
	return func(st viewstate.State) {
		stage := st.DashboardView.Stage
		if st.DataView.IsLoading {
			stage = "uploading"
		}
		if stage != "" && stage != last {
			s.logger.Info(stage + "...")
		}
		last = stage
	}
}

// explain turns a classified error into a one-line message with its phase.
func explain(err error) error {
	var e *apierr.Error
	if !errors.As(err, &e) {
		return err
	}
	msg := e.Message
	if e.Phase != "" {
		msg = fmt.Sprintf("%s failed: %s", e.Phase, msg)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request %s)", msg, e.RequestID)
	}
	return errors.New(msg)
}
