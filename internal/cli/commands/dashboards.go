package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapviz/pkg/core"
)

// NewDashboardsCommand creates the dashboards command group.
func NewDashboardsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dashboards",
		Aliases: []string{"dash"},
		Short:   "Manage saved dashboards",
	}
	cmd.AddCommand(
		newDashboardsListCommand(),
		newDashboardsShowCommand(),
		newDashboardsOpenCommand(),
		newDashboardsRenameCommand(),
		newDashboardsDeleteCommand(),
	)
	return cmd
}

func newDashboardsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved dashboards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			list, err := s.orch.ListDashboards(cmd.Context())
			if err != nil {
				return explain(err)
			}

			w := cmd.OutOrStdout()
			switch outputFormat(cmd) {
			case FormatJSON:
				return renderJSON(w, list)
			case FormatYAML:
				return renderYAML(w, list)
			}

			if len(list) == 0 {
				_, _ = fmt.Fprintln(w, "No saved dashboards.")
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(w)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "Chart", "Updated"})
			for _, d := range list {
				t.AppendRow(table.Row{d.ID, d.Name, d.ChartConfig.Type, d.UpdatedAt.Local().Format("2006-01-02 15:04")})
			}
			t.Render()
			return nil
		},
	}
}

func newDashboardsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved dashboard as YAML (or JSON with -o json)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			d, err := getDashboard(cmd, s, args[0])
			if err != nil {
				return err
			}
			if outputFormat(cmd) == FormatJSON {
				return renderJSON(cmd.OutOrStdout(), d)
			}
			return renderYAML(cmd.OutOrStdout(), d)
		},
	}
}

func newDashboardsOpenCommand() *cobra.Command {
	var data dataFlags

	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "Re-run a saved dashboard against the loaded dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			if _, err := data.load(ctx, s); err != nil {
				return explain(err)
			}
			d, ans, err := s.orch.OpenDashboard(ctx, args[0])
			if err != nil {
				return explain(err)
			}
			if outputFormat(cmd) == FormatTable {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", d.Name)
			}
			return renderAnswer(cmd.OutOrStdout(), ans, outputFormat(cmd))
		},
	}
	data.register(cmd)
	return cmd
}

func newDashboardsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a saved dashboard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			d, err := getDashboard(cmd, s, args[0])
			if err != nil {
				return err
			}
			updated, err := s.orch.UpdateDashboard(cmd.Context(), d.ID, core.DashboardInput{
				Name:        args[1],
				Question:    d.Question,
				SQL:         d.SQL,
				ChartConfig: d.ChartConfig,
			})
			if err != nil {
				return explain(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", updated.ID, updated.Name)
			return nil
		},
	}
}

func newDashboardsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved dashboard",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			if err := s.orch.DeleteDashboard(cmd.Context(), args[0]); err != nil {
				return explain(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

// getDashboard fetches one dashboard without re-running it.
func getDashboard(cmd *cobra.Command, s *session, id string) (*core.Dashboard, error) {
	list, err := s.orch.ListDashboards(cmd.Context())
	if err != nil {
		return nil, explain(err)
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("dashboard %q not found", id)
}
