package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/bootstrap"
	"github.com/HerbHall/fmcpilot/internal/config"
	"github.com/HerbHall/fmcpilot/internal/fmc"
	"github.com/HerbHall/fmcpilot/internal/provision"
	"github.com/HerbHall/fmcpilot/internal/report"
	"github.com/HerbHall/fmcpilot/internal/version"
)

// stepReport is handled here rather than in the pipeline: it reads the
// accumulated run records and emails the report, touching no device.
const stepReport = "report"

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	step := flag.String("step", provision.StepAll, "pipeline step to run (precheck, bootstrap, register, ha, netconfig, deploy, report, all)")
	runID := flag.String("run-id", "", "pipeline run identifier; defaults to the store's latest run, or a new one for the first step")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	cfg, viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("fmcpilot starting",
		zap.String("version", version.Short()),
		zap.String("step", *step),
	)
	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults and environment")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *step, *runID, logger); err != nil {
		logger.Error("pipeline step failed", zap.String("step", *step), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("pipeline step completed", zap.String("step", *step))
}

func run(ctx context.Context, cfg *config.Config, step, runID string, logger *zap.Logger) error {
	var (
		recorder report.Recorder = report.Discard{}
		store    *report.Store
	)
	if cfg.Report.Database != "" {
		var err error
		store, err = report.OpenStore(cfg.Report.Database)
		if err != nil {
			return fmt.Errorf("open report store: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	runID, err := resolveRunID(ctx, store, step, runID)
	if err != nil {
		return err
	}
	logger.Info("pipeline run", zap.String("run_id", runID))

	if step == stepReport {
		return sendReport(ctx, cfg, store, runID, logger)
	}

	client := fmc.NewClient(cfg.FMC, logger.Named("fmc"))
	if needsAPI(step) {
		if err := client.Login(ctx); err != nil {
			return fmt.Errorf("fmc login: %w", err)
		}
	}

	pipeline := provision.NewPipeline(
		client,
		provision.PipelineConfig{
			Devices:      cfg.Devices,
			Registration: cfg.Registration,
			HA:           cfg.HA,
			Network:      cfg.Network,
			Deploy:       cfg.Deploy,
		},
		bootstrap.NewPrecheck(cfg.Precheck, logger.Named("precheck")),
		bootstrap.NewManagerSetup(cfg.Manager, logger.Named("bootstrap")),
		recorder,
		runID,
		logger.Named("pipeline"),
	)
	if err := pipeline.Run(ctx, step); err != nil {
		return err
	}

	if step == provision.StepAll {
		return sendReport(ctx, cfg, store, runID, logger)
	}
	return nil
}

// resolveRunID picks the run identifier: an explicit flag wins, the first
// step of a run mints a new one, and later steps attach to the store's most
// recent run so separately invoked stages accumulate into one report.
func resolveRunID(ctx context.Context, store *report.Store, step, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if step == provision.StepPrecheck || step == provision.StepAll || store == nil {
		return report.NewRunID(), nil
	}
	latest, err := store.LatestRunID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve run id: %w", err)
	}
	if latest == "" {
		return report.NewRunID(), nil
	}
	return latest, nil
}

// needsAPI reports whether the step talks to the FMC REST API.
func needsAPI(step string) bool {
	switch step {
	case provision.StepPrecheck, provision.StepBootstrap:
		return false
	default:
		return true
	}
}

func sendReport(ctx context.Context, cfg *config.Config, store *report.Store, runID string, logger *zap.Logger) error {
	if store == nil {
		logger.Warn("report store disabled, nothing to send")
		return nil
	}
	if cfg.Email.SMTPHost == "" {
		logger.Warn("email delivery not configured, skipping report")
		return nil
	}
	records, err := store.ListRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run records: %w", err)
	}
	if len(records) == 0 {
		logger.Warn("no records for run, skipping report", zap.String("run_id", runID))
		return nil
	}
	emailer := report.NewEmailer(cfg.Email, logger.Named("report"))
	return emailer.Send(ctx, runID, records)
}
