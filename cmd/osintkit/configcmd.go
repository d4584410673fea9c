package osintkit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/varalys/osintkit/internal/config"
	"github.com/varalys/osintkit/internal/detectors"
)

var (
	cfgOutput    string
	cfgForce     bool
	cfgThreshold int
	cfgFailOn    string
	cfgMaxDepth  int
	cfgRequire   string
)

func init() {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	rootCmd.AddCommand(cfgCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a .osintkit.yml (or .toml) with the default rule settings",
		RunE:  runConfigInit,
	}
	cfgCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&cfgOutput, "output", ".osintkit.yml", "output file path; a .toml suffix writes TOML")
	initCmd.Flags().BoolVar(&cfgForce, "force", false, "overwrite an existing file")
	initCmd.Flags().IntVar(&cfgThreshold, "threshold", detectors.DefaultConfig().Threshold, "frequency threshold")
	initCmd.Flags().StringVar(&cfgFailOn, "fail-on", "suspicious", "fail-on level: info|suspicious|never")
	initCmd.Flags().IntVar(&cfgMaxDepth, "max-depth", 2, "nested archive depth")
	initCmd.Flags().StringVar(&cfgRequire, "require", "", "comma-separated required fields")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(cfgOutput); err == nil && !cfgForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgOutput)
	}
	def := detectors.DefaultConfig()
	var required []string
	for _, f := range strings.Split(cfgRequire, ",") {
		if f = strings.TrimSpace(f); f != "" {
			required = append(required, f)
		}
	}
	fc := config.FileConfig{
		FailOn:          strPtr(cfgFailOn),
		MaxArchiveBytes: int64Ptr(32 << 20),
		MaxDepth:        intPtr(cfgMaxDepth),
		Detectors: &config.DetectorConfig{
			Threshold:             intPtr(cfgThreshold),
			FrequencyField:        strPtr(def.FrequencyField),
			DangerousExtensions:   def.DangerousExtensions,
			DangerousContentTypes: def.DangerousContentTypes,
			RequiredFields:        required,
			HeaderPair:            def.HeaderPair[:],
			ValueThreshold:        floatPtr(def.ValueThreshold),
		},
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(cfgOutput), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(fc); err != nil {
			return err
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&fc); err != nil {
			return err
		}
		_ = enc.Close()
	}
	if err := os.WriteFile(cfgOutput, buf.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", cfgOutput)
	return nil
}
