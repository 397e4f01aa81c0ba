// The mimic server accepts episode chunks from game clients, dispatches
// training assignments and serves trained models.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arcadia-ml/mimic/pkg/api"
	"github.com/arcadia-ml/mimic/pkg/config"
	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/telemetry"
	"github.com/arcadia-ml/mimic/pkg/version"
)

func main() {
	cfg := &config.ServerConfig{}

	rootCmd := &cobra.Command{
		Use:           "mimic",
		Short:         "Behavioral-cloning training service",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	flags := rootCmd.Flags()
	flags.IntVar(&cfg.Port, "port", 0, "Port for the service to accept RPCs")
	flags.StringVar(&cfg.SSLDir, "ssl_dir", "", "Directory containing cert.pem and key.pem")
	flags.StringVar(&cfg.RootDir, "root_dir", "", "Directory where the service stores data")
	flags.IntVar(&cfg.MaxWorkers, "max_workers", 10, "Maximum concurrent RPC workers")
	flags.StringArrayVar(&cfg.ProjectIDs, "project_ids", nil,
		"Project IDs to create API keys for at startup")
	flags.StringArrayVar(&cfg.Hyperparameters, "hyperparameters", nil,
		"Hyperparameter sets (JSON) new training sessions get assignments for")
	flags.StringVar(&cfg.OpsAddr, "ops_addr", ":8086", "Address of the HTTP health/metrics endpoint")
	flags.StringVar(&cfg.Verbosity, "verbosity", "info", "Log verbosity: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log_format", "text", "Log format: text or json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("mimic: %v", err)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
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
	store := datastore.New(fs)

	for _, projectID := range cfg.ProjectIDs {
		key, err := api.GetOrCreateAPIKey(store, projectID)
		if err != nil {
			return err
		}
		log.Printf("Project %s API key: %s", projectID, key)
	}

	hparamSets, err := cfg.HyperparameterSets()
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	service := api.NewService(store, hparamSets, metrics)
	server, err := api.NewServer(service, api.ServerConfig{
		Port:       cfg.Port,
		SSLDir:     cfg.SSLDir,
		MaxWorkers: cfg.MaxWorkers,
	}, metrics)
	if err != nil {
		return err
	}
	ops := api.NewOpsRouter(fs, metrics)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return api.ServeOps(ctx, cfg.OpsAddr, ops) })
	return g.Wait()
}
