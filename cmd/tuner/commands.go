package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/tundr-anneal/internal/config"
	"github.com/copyleftdev/tundr-anneal/internal/logging"
	"github.com/copyleftdev/tundr-anneal/internal/optimization"
	"github.com/copyleftdev/tundr-anneal/internal/tuner"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInvalid     = 4
	exitInterrupted = 130
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, optimization.ErrInvalidConfig):
		return exitInvalid
	case errors.Is(err, optimization.ErrInterrupted):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tuner",
		Short:         "Search parameter configurations with simulated annealing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Tuning document (default $TUNER_CONFIG or tuner.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default $LOG_LEVEL)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Calibrate, search and print the best configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTuning(cmd.Context(), opts, stdout)
			},
		},
		&cobra.Command{
			Use:   "calibrate",
			Short: "Estimate the temperature range without searching",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCalibration(cmd.Context(), opts, stdout)
			},
		},
	)
	return root
}

// setup loads the environment, the logger and the tuning document.
func setup(opts *options) (*config.Config, *logging.Logger, *config.Tuning, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	path := opts.configPath
	if path == "" {
		path = cfg.Tuning.ConfigPath
	}
	tc, err := config.LoadTuning(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger.WithField("config", path), tc, nil
}

func newTuner(cfg *config.Config, logger *logging.Logger) *tuner.Tuner {
	return tuner.New(
		tuner.WithLogger(logging.NewZapLogger(logger)),
		tuner.WithMaxWorkers(cfg.Optimization.WorkerCount),
	)
}

func runTuning(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, logger, tc, err := setup(opts)
	if err != nil {
		return err
	}

	out, err := newTuner(cfg, logger).Run(ctx, tc)
	if err != nil {
		logger.WithError(err).Error("tuning failed", map[string]interface{}{
			"stage": tuner.Stage(err),
		})
		return err
	}
	return out.Report.WriteText(stdout)
}

func runCalibration(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, logger, tc, err := setup(opts)
	if err != nil {
		return err
	}

	b, err := newTuner(cfg, logger).Calibrate(ctx, tc)
	if err != nil {
		logger.WithError(err).Error("calibration failed")
		return err
	}
	source := "supplied"
	if b.Estimated {
		source = "estimated"
	}
	_, err = fmt.Fprintf(stdout, "min_temp: %g\nmax_temp: %g (%s, %d samples, %d skipped)\n",
		b.MinTemp, b.MaxTemp, source, b.Samples, b.Skipped)
	return err
}
