package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewUploadCommand creates the upload command.
func NewUploadCommand() *cobra.Command {
	var demo bool

	cmd := &cobra.Command{
		Use:   "upload [file.csv]",
		Short: "Load a CSV file and describe it",
		Long: `Load a CSV file (or the bundled demo dataset) into the backend and print
its columns and a sample of rows.`,
		Example: `  leapviz upload sales.csv
  leapviz upload --demo -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := dataFlags{demo: demo}
			switch {
			case demo && len(args) > 0:
				return errors.New("pass a file or --demo, not both")
			case !demo && len(args) == 0:
				return errors.New("a CSV file is required unless --demo is set")
			case len(args) == 1:
				data.file = args[0]
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			info, err := data.load(cmd.Context(), s)
			if err != nil {
				return explain(err)
			}
			return renderTableInfo(cmd.OutOrStdout(), info, outputFormat(cmd))
		},
	}

	cmd.Flags().BoolVar(&demo, "demo", false, "Load the bundled demo dataset")
	return cmd
}

// outputFormat reads the persistent --output flag.
func outputFormat(cmd *cobra.Command) string {
	if f := cmd.Flag("output"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	return FormatTable
}
