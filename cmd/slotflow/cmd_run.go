package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wehubfusion/slotflow/internal/errreport"
	"github.com/wehubfusion/slotflow/internal/logging"
	internalnats "github.com/wehubfusion/slotflow/internal/nats"
	"github.com/wehubfusion/slotflow/internal/tracing"
	"github.com/wehubfusion/slotflow/pkg/concurrency"
	"github.com/wehubfusion/slotflow/pkg/pipeline"
	"github.com/wehubfusion/slotflow/pkg/progress"
	"github.com/wehubfusion/slotflow/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

var runFlags struct {
	file           string
	runID          string
	sequential     bool
	sqlitePath     string
	azureConnStr   string
	azureContainer string
	natsURL        string
	natsPrefix     string
	otlpEndpoint   string
	sentryDSN      string
	environment    string
	logLevel       string
	logFormat      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline once",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.file, "file", "f", "", "Pipeline file (required)")
	f.StringVar(&runFlags.runID, "run-id", "", "Run identifier (default: random UUID)")
	f.BoolVar(&runFlags.sequential, "sequential", false, "Run the batches of every node one after another")
	f.StringVar(&runFlags.sqlitePath, "sqlite", "", "Store rows and node records in this SQLite database")
	f.StringVar(&runFlags.azureConnStr, "azure-connection-string", "", "Store rows and node records in Azure Blob Storage")
	f.StringVar(&runFlags.azureContainer, "azure-container", "slotflow", "Azure Blob container")
	f.StringVar(&runFlags.natsURL, "nats", "", "Publish progress events to this NATS server")
	f.StringVar(&runFlags.natsPrefix, "nats-prefix", progress.DefaultSubjectPrefix, "Subject prefix of progress events")
	f.StringVar(&runFlags.otlpEndpoint, "otlp", "", "Export traces to this OTLP HTTP endpoint (host:port)")
	f.StringVar(&runFlags.sentryDSN, "sentry-dsn", os.Getenv("SENTRY_DSN"), "Report node failures to Sentry")
	f.StringVar(&runFlags.environment, "environment", "development", "Deployment environment reported with traces and errors")
	f.StringVar(&runFlags.logLevel, "log-level", "info", "Log level")
	f.StringVar(&runFlags.logFormat, "log-format", logging.FormatJSON, "Log format (json|console)")

	_ = runCmd.MarkFlagRequired("file")
	runCmd.MarkFlagsMutuallyExclusive("sqlite", "azure-connection-string")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(runFlags.logLevel, runFlags.logFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()

	p, err := loadPipeline(runFlags.file)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if runFlags.otlpEndpoint != "" {
		cfg := tracing.DefaultConfig(runFlags.otlpEndpoint)
		cfg.ServiceVersion = version
		cfg.Environment = runFlags.environment
		shutdown, err := tracing.Setup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = tracing.Shutdown(shutdown, shutdownTimeout, logger) }()
	}

	reporter := progress.Multi{progress.NewLogReporter(logger)}
	if runFlags.natsURL != "" {
		conn, err := internalnats.Connect(ctx, internalnats.DefaultConnectionConfig(runFlags.natsURL), logger)
		if err != nil {
			return err
		}
		defer func() { _ = internalnats.Close(conn) }()
		natsReporter, err := progress.NewNATSReporter(conn, runFlags.natsPrefix, logger)
		if err != nil {
			return err
		}
		reporter = append(reporter, natsReporter)
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	errs, err := errreport.New(errreport.Config{
		DSN:         runFlags.sentryDSN,
		Environment: runFlags.environment,
		Release:     version,
	}, logger)
	if err != nil {
		return err
	}
	defer errs.Flush(shutdownTimeout)

	concurrencyCfg := concurrency.LoadConfig()
	logger.Debug("Concurrency configuration", zap.Stringer("config", concurrencyCfg))
	pool := concurrency.NewPool(concurrencyCfg, logger)
	defer pool.Close()

	runner, err := pipeline.NewRunner(p, pipeline.Options{
		RunID:              runFlags.runID,
		Pool:               pool,
		Parallelization:    concurrencyCfg.ParallelizationAllowed() && !runFlags.sequential,
		MaxConcurrentNodes: concurrencyCfg.MaxConcurrentNodes,
		Store:              store,
		Progress:           reporter,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	result, runErr := runner.Run(ctx)
	nodeFailed := false
	for _, rec := range result.Nodes {
		if rec.Status == storage.StatusFailed {
			nodeFailed = true
			errs.CaptureNodeFailure(p.Name, result.RunID, rec)
		}
	}
	// Failures outside any node, such as a cyclic graph.
	if result.Status == pipeline.StatusFailed && !nodeFailed {
		errs.CaptureError(runErr, map[string]string{"pipeline": p.Name, "run_id": result.RunID})
	}

	if err := printResult(cmd, result); err != nil {
		return err
	}
	return runErr
}

// openStore opens the store selected by the flags. It returns nil when no
// store is configured.
func openStore(logger *zap.Logger) (storage.RowStore, error) {
	switch {
	case runFlags.sqlitePath != "":
		return storage.OpenSQLite(runFlags.sqlitePath, logger)
	case runFlags.azureConnStr != "":
		client, err := storage.NewAzureBlobClient(runFlags.azureConnStr, runFlags.azureContainer, logger)
		if err != nil {
			return nil, err
		}
		return storage.NewBlobStore(client, logger)
	}
	return nil, nil
}

func printResult(cmd *cobra.Command, result *pipeline.RunResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", result.RunID)
	fmt.Fprintf(out, "Status:   %s\n", result.Status)
	fmt.Fprintf(out, "Duration: %s\n\n", result.Duration.Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Node\tType\tStatus\tBatches\tTime\tError\n")
	fmt.Fprintf(w, "----\t----\t------\t-------\t----\t-----\n")
	for _, rec := range result.Nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\t%s\n",
			rec.Node, rec.Type, rec.Status, rec.Batches, rec.ExecutionTimeMs, rec.Error)
	}
	return w.Flush()
}
