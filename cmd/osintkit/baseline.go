package osintkit

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varalys/osintkit/internal/report"
)

var flagBaselineOut string

func init() {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage baselines",
	}

	update := &cobra.Command{
		Use:   "update <artifact>...",
		Short: "Record the current findings so later scans only report new ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lcfg, gcfg, err := loadConfigs()
			if err != nil {
				return err
			}
			cfg, err := buildConfig(cmd, lcfg, gcfg)
			if err != nil {
				return err
			}
			_, findings, _, failed := runArtifacts(cmd, args, cfg, "")
			if len(failed) > 0 {
				return &exitError{code: 2, err: fmt.Errorf("baseline not written: %d of %d artifacts failed", len(failed), len(args))}
			}
			if err := report.SaveBaseline(flagBaselineOut, findings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline updated: %s (%d findings)\n", flagBaselineOut, len(findings))
			return nil
		},
	}
	addPipelineFlags(update)
	update.Flags().StringVar(&flagBaselineOut, "output", report.DefaultBaselineFile, "baseline file to write")

	rootCmd.AddCommand(cmd)
	cmd.AddCommand(update)
}
