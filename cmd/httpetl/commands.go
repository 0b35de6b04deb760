package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"httpetl/internal/config"
	"httpetl/internal/metrics"
	"httpetl/internal/metrics/datadog"
	"httpetl/internal/metrics/prompush"
	"httpetl/internal/pipeline"
	"httpetl/internal/templates"
	"httpetl/internal/transform"
)

func runCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every module (the default action)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(cmd, opts)
		},
	}
}

func validateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest and render every module without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(cmd, opts)
		},
	}
}

func listCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the jobs found under --modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := templates.Load(opts.modules)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSOURCE\tSINK\tPATH")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.Name, j.Source, j.Sink, j.Path)
			}
			if ferr := tw.Flush(); ferr != nil {
				return ferr
			}
			return err
		},
	}
}

func runPipelines(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	log := opts.logger

	cfg, err := config.Load(opts.yamlConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, iss := range config.Validate(cfg) {
		if iss.Severity == config.SeverityWarning {
			log.Warn("config", zap.String("path", iss.Path), zap.String("issue", iss.Message))
		}
	}

	// Broken modules fail on their own; the rest still run.
	jobs, renderErr := templates.Load(opts.modules)
	if renderErr != nil {
		log.Error("render modules", zap.Error(renderErr))
	}

	flush, err := setupMetrics(opts)
	if err != nil {
		return err
	}
	defer flush()

	exec, err := transform.NewExecutor(ctx, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	log.Info("starting run",
		zap.String("modules", opts.modules),
		zap.String("config", opts.yamlConfig),
		zap.Int("jobs", len(jobs)),
	)
	_, runErr := pipeline.NewRunner(cfg, exec, pipeline.WithLogger(log)).Run(ctx, jobs)
	return errors.Join(renderErr, runErr)
}

func validate(cmd *cobra.Command, opts *options) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadFile(opts.yamlConfig)
	if err != nil {
		return err
	}

	failed := false
	for _, iss := range config.Validate(cfg) {
		fmt.Fprintf(out, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			failed = true
		}
	}
	if !failed {
		// Index also resolves *_env credentials.
		if err := cfg.Index(); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			failed = true
		}
	}

	jobs, err := templates.Load(opts.modules)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		failed = true
	}
	for _, j := range jobs {
		if !hasSource(cfg, j.Source) {
			fmt.Fprintf(out, "error: %s: source %q is not declared\n", j.Path, j.Source)
			failed = true
		}
		if !hasTarget(cfg, j.Sink) {
			fmt.Fprintf(out, "error: %s: sink %q is not declared\n", j.Path, j.Sink)
			failed = true
		}
	}

	if failed {
		return fmt.Errorf("configuration is invalid: %s", opts.yamlConfig)
	}
	fmt.Fprintf(out, "configuration is valid: %s (%d jobs)\n", opts.yamlConfig, len(jobs))
	return nil
}

func hasSource(cfg *config.Config, name string) bool {
	for _, s := range cfg.Sources {
		if s.Name == name {
			return true
		}
	}
	return false
}

func hasTarget(cfg *config.Config, name string) bool {
	for _, t := range cfg.Targets {
		if t.Name == name {
			return true
		}
	}
	return false
}

// setupMetrics installs the backend chosen by flag, then env, and returns
// the flush to run when the command finishes.
func setupMetrics(opts *options) (func(), error) {
	log := opts.logger
	name := opts.metricsBackend
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "", "none":
		log.Debug("metrics disabled")
		return func() {}, nil

	case "pushgateway":
		gwURL := firstNonEmpty(opts.pushgatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err = prompush.NewBackend("httpetl", gwURL)
		log.Info("metrics", zap.String("backend", name), zap.String("url", gwURL))

	case "datadog":
		addr := firstNonEmpty(opts.datadogAddr, os.Getenv("DD_DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err = datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "httpetl."})
		log.Info("metrics", zap.String("backend", name), zap.String("addr", addr))

	default:
		return nil, fmt.Errorf("unsupported value %q for --metrics-backend", name)
	}
	if err != nil {
		log.Warn("metrics backend unavailable; using nop", zap.Error(err))
		return func() {}, nil
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush", zap.Error(err))
		}
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
