package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pulsecam/pulsecam-agent/internal/config"
	"github.com/pulsecam/pulsecam-agent/internal/logging"
	"github.com/pulsecam/pulsecam-agent/internal/measurement"
	"github.com/pulsecam/pulsecam-agent/internal/presage"
)

var (
	green = color.New(color.FgGreen, color.Bold).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulsecam-agent",
		Short:         "Measure heart rate from face video",
		Long:          `Upload recorded face video to the Presage physiology service and report the measured heart rate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMeasureCmd())
	root.AddCommand(newRetrieveCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pulsecam-agent %s (commit %s, built %s)\n",
				config.Version, config.GitCommit, config.BuildTime)
		},
	}
}

// setupLogger builds the process logger writing to base and, when configured,
// the log file. The returned closer releases the log file.
func setupLogger(cfg config.Config, base io.Writer) (*slog.Logger, func(), error) {
	if cfg.LogFile() == "" {
		return logging.New(cfg.LogLevel(), base), func() {}, nil
	}

	f, err := logging.OpenFile(cfg.LogFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logging.New(cfg.LogLevel(), base, f), func() { f.Close() }, nil
}

func newPresageClient(cfg config.Config, logger *slog.Logger, opts ...presage.Option) *presage.HTTPClient {
	opts = append([]presage.Option{
		presage.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout()}),
	}, opts...)
	return presage.NewHTTPClient(cfg.APIBase(), cfg.APIKey(), logging.WithComponent(logger, "presage"), opts...)
}

func requireAPIKey(cfg config.Config) error {
	if cfg.APIKey() == "" {
		return fmt.Errorf("%s is not set", config.EnvAPIKey)
	}
	return nil
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, red("error: "+measurement.UserMessage(err)))
}
