package osintkit

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/detectors"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "formats",
		Short: "List artifact formats and the record kind each produces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header([]string{"FORMAT", "KIND"})
			for _, f := range artifacts.Formats() {
				_ = table.Append([]string{string(f), string(artifacts.DefaultKind(f))})
			}
			return table.Render()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rules",
		Short: "List detector rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def := detectors.DefaultConfig()
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header([]string{"RULE", "SEVERITY", "DEFAULT", "DESCRIPTION"})
			for _, r := range detectors.Rules() {
				on := "off"
				if def.Enabled(r.ID) {
					on = "on"
				}
				_ = table.Append([]string{r.ID, string(r.Severity), on, r.Description})
			}
			return table.Render()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the osintkit version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "osintkit", version)
		},
	})
}

// ruleList is used in help text.
func ruleList() string { return strings.Join(detectors.IDs(), ", ") }
