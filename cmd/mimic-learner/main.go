// The mimic-learner worker acquires training assignments from the shared
// store, trains policies on demonstration data and publishes models.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arcadia-ml/mimic/pkg/config"
	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/learner"
	"github.com/arcadia-ml/mimic/pkg/telemetry"
	"github.com/arcadia-ml/mimic/pkg/version"
)

func main() {
	cfg := &config.LearnerConfig{}
	iterations := -1

	rootCmd := &cobra.Command{
		Use:           "mimic-learner",
		Short:         "Training worker for the behavioral-cloning service",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, iterations)
		},
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.RootDir, "root_dir", "", "Directory where the service stores data")
	flags.StringVar(&cfg.Verbosity, "verbosity", "info", "Log verbosity: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log_format", "text", "Log format: text or json")
	flags.StringArrayVar(&cfg.Hyperparameters, "hyperparameters", nil,
		"Hyperparameter sets (JSON) this worker accepts; empty accepts all")
	flags.StringVar(&cfg.TmpModelsDir, "tmp_models_dir", "", "Temporary parent directory for models")
	flags.StringVar(&cfg.ModelsDir, "models_dir", "", "Permanent parent directory for models")
	flags.StringVar(&cfg.CheckpointsDir, "checkpoints_dir", "", "Parent directory for checkpoints")
	flags.StringVar(&cfg.SummariesDir, "summaries_dir", "", "Parent directory for summaries")
	flags.IntVar(&iterations, "iterations", -1,
		"Number of assignment acquisitions before exiting; negative runs forever")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("mimic-learner: %v", err)
	}
}

func run(ctx context.Context, cfg *config.LearnerConfig, iterations int) error {
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}
	telemetry.SetupLogging(cfg.Verbosity, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return err
	}

	fs, err := filestore.New(cfg.RootDir)
	if err != nil {
		return err
	}
	storage := learner.NewStorage(datastore.New(fs))

	modelsDir, err := config.StorageDir(cfg.ModelsDir, cfg.RootDir, "models")
	if err != nil {
		return err
	}
	checkpointsDir, err := config.StorageDir(cfg.CheckpointsDir, cfg.RootDir, "checkpoints")
	if err != nil {
		return err
	}
	summariesDir, err := config.StorageDir(cfg.SummariesDir, cfg.RootDir, "summaries")
	if err != nil {
		return err
	}
	tmpBase, err := config.StorageDir(cfg.TmpModelsDir, cfg.RootDir, "tmp_models")
	if err != nil {
		return err
	}
	// Each worker gets its own tmp tree, wiped on shutdown.
	tmpModelsDir, err := os.MkdirTemp(tmpBase, "worker")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpModelsDir)

	dirs := learner.Dirs{
		TmpModels:   tmpModelsDir,
		Models:      modelsDir,
		Checkpoints: checkpointsDir,
		Summaries:   summariesDir,
	}

	metrics := telemetry.NewMetrics()
	driver, err := learner.NewDriver(storage, dirs, learner.NewLinearTrainer, metrics)
	if err != nil {
		return err
	}
	defer driver.Close()

	if len(cfg.Hyperparameters) > 0 {
		sets, err := config.ParseHyperparameterSets(cfg.Hyperparameters)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(sets))
		for _, h := range sets {
			ids = append(ids, h.CanonicalID())
		}
		driver.SetAcceptedAssignments(ids)
	}

	// A stop signal drains: the active processor finishes its step and its
	// in-flight export before the driver releases the assignment.
	go func() {
		<-ctx.Done()
		slog.Info("Shutdown requested, draining")
		driver.Stop()
	}()

	err = driver.Run(ctx, iterations)
	slog.Info("Learner shut down")
	return err
}
