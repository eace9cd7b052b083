package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pulsecam/pulsecam-agent/internal/config"
	"github.com/pulsecam/pulsecam-agent/internal/logging"
	"github.com/pulsecam/pulsecam-agent/internal/measurement"
	"github.com/pulsecam/pulsecam-agent/internal/presage"
	"github.com/pulsecam/pulsecam-agent/internal/video"
)

type pollFlags struct {
	interval time.Duration
	timeout  time.Duration
}

func (f *pollFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "wait between result polls (default from "+config.EnvPollInterval+")")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "give up waiting for results after this long (default from "+config.EnvPollTimeout+")")
}

func (f *pollFlags) options(cfg config.Config) presage.PollOptions {
	opts := presage.PollOptions{Interval: cfg.PollInterval(), Timeout: cfg.PollTimeout()}
	if f.interval > 0 {
		opts.Interval = f.interval
	}
	if f.timeout > 0 {
		opts.Timeout = f.timeout
	}
	return opts
}

func newMeasureCmd() *cobra.Command {
	var flags pollFlags

	cmd := &cobra.Command{
		Use:   "measure <video-file>",
		Short: "Upload a recorded video and print the measured heart rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasure(cmd.Context(), cmd.OutOrStdout(), args[0], &flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRetrieveCmd() *cobra.Command {
	var flags pollFlags

	cmd := &cobra.Command{
		Use:   "retrieve <video-id>",
		Short: "Wait for the analysis of an already uploaded video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd.Context(), cmd.OutOrStdout(), args[0], &flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runMeasure(parent context.Context, out io.Writer, path string, flags *pollFlags) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireAPIKey(cfg); err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := measurement.NewService(measurement.ServiceConfig{
		Analyzer:    newPresageClient(cfg, logger),
		PollOptions: flags.options(cfg),
		Logger:      logging.WithComponent(logger, "measurement"),
	})
	if err := svc.BeginRecording(); err != nil {
		return err
	}

	artifact, err := video.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, gray("uploading "+humanize.IBytes(uint64(artifact.Size()))+" "+artifact.ContentType()))

	rec, err := svc.Measure(ctx, artifact)
	if err != nil {
		if rec.VideoID != "" {
			fmt.Fprintln(out, gray("video id: "+rec.VideoID))
		}
		return err
	}

	fmt.Fprintf(out, "%s %s\n", green(fmt.Sprintf("%d BPM", rec.BPM)), gray("at "+rec.Time))
	fmt.Fprintln(out, gray("video id: "+rec.VideoID))
	return nil
}

func runRetrieve(parent context.Context, out io.Writer, videoID string, flags *pollFlags) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireAPIKey(cfg); err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newPresageClient(cfg, logging.WithVideoID(logger, videoID))
	result, err := client.PollForResults(ctx, videoID, flags.options(cfg))
	if err != nil {
		return err
	}

	fmt.Fprintln(out, green(fmt.Sprintf("%d BPM", result.BPM())))
	return nil
}
