// Command httpetl pulls JSON from REST APIs, reshapes each page with a SQL
// module and loads the result into a warehouse.
//
//	httpetl --modules pipelines --yaml-config pipelines.yaml run
//	httpetl validate
//	httpetl list
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"httpetl/internal/logging"

	// register all backends with the storage factory.
	_ "httpetl/internal/storage/all"
)

const (
	defaultModules    = "pipelines"
	defaultYAMLConfig = "pipelines.yaml"
	defaultLogLevel   = "info"
	defaultLogFormat  = "console"
)

type options struct {
	modules    string
	yamlConfig string
	logLevel   string
	logFormat  string

	metricsBackend string
	pushgatewayURL string
	datadogAddr    string

	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "httpetl",
		Short:        "Extract from REST APIs, transform with SQL, load to warehouses",
		Example:      "httpetl --modules ./pipelines --yaml-config ./pipelines.yaml run",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(cmd, opts)
		},
	}

	root.AddCommand(runCommand(opts), validateCommand(opts), listCommand(opts))

	f := root.PersistentFlags()
	f.StringVarP(&opts.modules, "modules", "m", defaultModules, "directory of SQL modules")
	f.StringVarP(&opts.yamlConfig, "yaml-config", "y", defaultYAMLConfig, "YAML manifest of sources and targets")
	f.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "logging level (\"debug\", \"info\", \"warning\", \"error\")")
	f.StringVar(&opts.logFormat, "log-format", defaultLogFormat, "log encoding (\"console\", \"json\")")
	f.StringVar(&opts.metricsBackend, "metrics-backend", "", "metrics backend (\"none\", \"pushgateway\", \"datadog\"); env METRICS_BACKEND, default none")
	f.StringVar(&opts.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL; env PUSHGATEWAY_URL, default http://localhost:9091")
	f.StringVar(&opts.datadogAddr, "datadog-addr", "", "DogStatsD address; env DD_DOGSTATSD_ADDR, default 127.0.0.1:8125")

	return root
}
