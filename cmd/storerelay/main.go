// Command storerelay runs the batched transfer pipeline: send units to the
// destination, validate the transferred identifiers against the inventory,
// and reconcile the run into a final verdict.
//
// Usage:
//
//	storerelay send -root /data/incoming [-config storerelay.yaml] [-resume RUN_ID]
//	storerelay validate -run RUN_ID [-config storerelay.yaml]
//	storerelay probe [-config storerelay.yaml]
//	storerelay runs [-config storerelay.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dicomops/storerelay/pkg/storerelay/checkpoint"
	"github.com/dicomops/storerelay/pkg/storerelay/config"
	"github.com/dicomops/storerelay/pkg/storerelay/observability"
	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
	"github.com/dicomops/storerelay/pkg/storerelay/send"
	"github.com/dicomops/storerelay/pkg/storerelay/validate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(ctx, logger, os.Args[2:])
	case "validate":
		err = runValidate(ctx, logger, os.Args[2:])
	case "probe":
		err = runProbe(ctx, logger, os.Args[2:])
	case "runs":
		err = runList(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: storerelay <send|validate|probe|runs> [flags]")
}

// openStore picks the checkpoint backend. SQLite when a path is given,
// per-run files otherwise.
func openStore(settings config.Settings, sqlitePath string) (checkpoint.Store, error) {
	if sqlitePath != "" {
		return checkpoint.NewSQLiteStore(sqlitePath)
	}
	return checkpoint.NewFileStore(settings.RunsBase), nil
}

func runSend(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (yaml or json)")
	root := fs.String("root", "", "root directory to discover units under")
	batchSize := fs.Int("batch-size", 0, "units per batch (default from config)")
	resume := fs.String("resume", "", "run id to resume")
	sqlitePath := fs.String("sqlite", "", "sqlite checkpoint database (default: per-run files)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return fmt.Errorf("-root is required")
	}

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		return err
	}
	if *batchSize > 0 {
		settings.BatchSize = *batchSize
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	store, err := openStore(settings, *sqlitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	tool := send.NewStoreSCU(settings.ToolPath, settings.Destination())
	executor := send.NewExecutor(settings.RunsBase, tool, store,
		send.WithLogger(logger),
		send.WithMetrics(observability.NewMetricsRecorder()),
		send.WithSpanManager(observability.NewSpanManager()),
	)

	summary, err := executor.Run(ctx, send.Request{
		RootPath:    *root,
		Destination: settings.Destination(),
		BatchSize:   settings.BatchSize,
		ResumeRunID: *resume,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s (units %d/%d, success %d, error %d)\n",
		summary.RunID, summary.SendStatus,
		summary.UnitsCompleted, summary.UnitsTotal,
		summary.SuccessCount, summary.ErrorCount,
	)
	if summary.SendStatus == send.StatusInterrupted {
		fmt.Printf("resume with: storerelay send -root %s -resume %s\n", *root, summary.RunID)
	}
	return nil
}

func runValidate(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (yaml or json)")
	runID := fs.String("run", "", "run id to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("-run is required")
	}

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		return err
	}

	validator := validate.NewValidator(settings.RestHost, settings.AETitle,
		validate.WithLogger(logger),
		validate.WithMetrics(observability.NewMetricsRecorder()),
		validate.WithSpanManager(observability.NewSpanManager()),
		validate.WithQueryTimeout(settings.QueryTimeout),
	)

	report, err := validator.Run(ctx, settings.RunsBase, *runID)
	if err != nil {
		return err
	}
	rec, err := validate.ReconcileRun(settings.RunsBase, report, logger)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s (%s)\n", rec.RunID, rec.FinalStatus, rec.Reason)
	if rec.FinalStatus == validate.VerdictFail {
		os.Exit(1)
	}
	return nil
}

func runProbe(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	tool := send.NewStoreSCU(settings.ToolPath, settings.Destination())
	result, err := send.Probe(ctx, tool, logger)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("destination %s unreachable (exit code %d)", settings.Destination(), result.ExitCode)
	}
	fmt.Printf("destination %s reachable\n", settings.Destination())
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		return err
	}
	ids, err := rundir.List(settings.RunsBase)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
