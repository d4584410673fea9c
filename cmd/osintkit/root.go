package osintkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/varalys/osintkit/internal/config"
	"github.com/varalys/osintkit/internal/logging"
	"github.com/varalys/osintkit/internal/report"
)

var (
	flagThreads    int
	flagNoColor    bool
	flagLogLevel   string
	flagLogFormat  string
	flagConfigFile string

	version = "0.1.0"
)

// rootCmd is the base Cobra command for the osintkit CLI.
var rootCmd = &cobra.Command{
	Use:   "osintkit",
	Short: "Ingest forensic artifacts and flag anomalies",
	Long: "osintkit reads archives, web-server logs, packet captures, email, spreadsheets, " +
		"structured dumps and SQLite databases, normalizes them into records, and reports " +
		"anomalies with simple heuristic rules.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the osintkit CLI. It should be called by the main package.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "error:", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func init() {
	report.ToolVersion = version
	rootCmd.PersistentFlags().IntVar(&flagThreads, "threads", 0, "artifacts processed in parallel (0 = GOMAXPROCS)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default warn)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text|json")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default: ./.osintkit.yml, then $XDG_CONFIG_HOME/osintkit/config.yml)")
}

// loadConfigs returns the local and global file configs. An explicit
// --config file takes the local slot and must load.
func loadConfigs() (local, global config.FileConfig, err error) {
	if c, e := config.LoadGlobal(); e == nil {
		global = c
	}
	if flagConfigFile != "" {
		local, err = config.LoadFile(flagConfigFile)
		return local, global, err
	}
	if c, e := config.LoadLocal("."); e == nil {
		local = c
	}
	return local, global, nil
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	lcfg, gcfg, err := loadConfigs()
	if err != nil {
		return err
	}
	level := pickString(flagLogLevel, lcfg.LogLevel, gcfg.LogLevel)
	format := pickString(flagLogFormat, lcfg.LogFormat, gcfg.LogFormat)
	logging.Init(format, logging.ParseLevel(level))
	return nil
}
