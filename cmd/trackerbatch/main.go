package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clintrovert/trackerbatch/internal/config"
	"github.com/clintrovert/trackerbatch/internal/runner"
)

var (
	configPath string
	verbose    bool
	logLevel   = zap.NewAtomicLevelAt(zap.InfoLevel)

	rootCmd = &cobra.Command{
		Use:   "trackerbatch",
		Short: "Apply declarative task batches to an issue tracker",
		Long: `trackerbatch creates, updates and deletes tracker issues described in a
tasks file. It obtains an OAuth2 token once, stores it next to the config
and reports the result of every item separately.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	os.Exit(execute())
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, runner.ErrItemsFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return exitCode(err)
	}
	return 0
}

// exitCode is 1 when only batch items failed and 2 when the run itself
// could not complete
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, runner.ErrItemsFailed):
		return 1
	default:
		return 2
	}
}

// newLogger builds the console logger. Its level can be raised later from
// the config file.
func newLogger() (*zap.Logger, error) {
	if verbose {
		logLevel.SetLevel(zap.DebugLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = logLevel
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// applyLogLevel honours log_level unless --verbose was given
func applyLogLevel(logger *zap.Logger, level string) {
	if verbose || level == "" {
		return
	}
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logger.Warn("invalid log level, keeping info", zap.String("log_level", level))
	}
}
