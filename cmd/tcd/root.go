// Package tcd is the outer CLI shell: a thin cobra command tree over the
// core debugger packages (pkg/tcd/{model,loader,trace,location,
// controller,expr}). It owns process launch, the interactive command
// loop, structured logging and configuration, and nothing else — every
// piece of debugging logic lives in pkg/tcd.
package tcd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
	logger   *slog.Logger
)

// RootCmd is the tcd CLI's entry point.
var RootCmd = &cobra.Command{
	Use:   "tcd <binary>",
	Short: "A source-level debugger for native x86-64 programs",
	Long: `tcd attaches to a traced child process, loads its DWARF debug information,
and exposes line-granular stepping, breakpoints, stack unwinding and typed
inspection of local variables and C-like expressions over a live frame.`,
	Args: cobra.ExactArgs(1),
	RunE: runDebug,
}

// Execute runs RootCmd, exiting with status 1 on error. Called once by
// main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.tcd.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	viper.BindPFlag("log-level", RootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads a config file and environment variables, following the
// same layered-override convention the teacher's root command uses.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tcd")
	}

	viper.SetEnvPrefix("TCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// initLogger builds a structured logger fanning out to stderr (always)
// and, when TCD_LOG_FILE is set, to a second handler writing to that
// file — the multi-handler composition the teacher reaches for via
// samber/slog-multi rather than hand-rolling a tee writer.
func initLogger() {
	level := parseLevel(viper.GetString("log-level"))
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}

	if path := viper.GetString("log-file"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger = slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(logger)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
