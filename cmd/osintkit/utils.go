package osintkit

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// exitError carries a process exit code out of a command. err may be nil
// when the command already reported everything it had to say.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// pick resolves CLI > local > global > default. cli is nil when the flag
// was not given on the command line.
func pick[T any](cli, local, global *T, def T) T {
	if cli != nil {
		return *cli
	}
	if local != nil {
		return *local
	}
	if global != nil {
		return *global
	}
	return def
}

// changed returns &v when the named flag was set explicitly on cmd.
func changed[T any](cmd *cobra.Command, name string, v T) *T {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	return &v
}

func pickString(cli string, local, global *string) string {
	if cli != "" {
		return cli
	}
	if local != nil && *local != "" {
		return *local
	}
	if global != nil && *global != "" {
		return *global
	}
	return ""
}

func pickDuration(cli *time.Duration, local, global *string) (time.Duration, error) {
	if cli != nil {
		return *cli, nil
	}
	for _, s := range []*string{local, global} {
		if s == nil || *s == "" {
			continue
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return 0, fmt.Errorf("time_budget: %w", err)
		}
		return d, nil
	}
	return 0, nil
}

// delimiterRune accepts a single character or the names "tab", "comma",
// "semicolon" and "pipe".
func delimiterRune(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}

// useColor reports whether severity colouring should be applied to stdout.
func useColor(noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func int64Ptr(i int64) *int64     { return &i }
func floatPtr(f float64) *float64 { return &f }
