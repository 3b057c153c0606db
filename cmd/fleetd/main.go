package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openshapes/fleet/internal/config"
	"github.com/openshapes/fleet/internal/credits"
	"github.com/openshapes/fleet/internal/fleet"
	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/internal/web"
)

var (
	// Version is set during build
	Version = "dev"
	// BuildTime is set during build
	BuildTime = "unknown"

	defaultConfigPath = "/etc/openshapes/config.json"
)

// FleetServer holds every running component of the controller.
type FleetServer struct {
	runtimeClient *runtime.DockerClient
	manager       *fleet.Manager
	ledger        *credits.Ledger
	webServer     *web.Server
	logger        *logrus.Logger
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	configPath := defaultConfigPath
	if env := os.Getenv("OPENSHAPES_CONFIG"); env != "" {
		configPath = env
	}

	rootCmd := &cobra.Command{
		Use:   "fleetd",
		Short: "OpenShapes Fleet Controller",
		Long: `fleetd provisions and supervises per-tenant isolated container
instances on top of a container runtime.`,
		Run: func(cmd *cobra.Command, args []string) {
			log.Infof("Starting fleetd %s (built at %s)", Version, BuildTime)
			runServer(log, configPath)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", configPath,
		"Config file path (can also be set via OPENSHAPES_CONFIG env var)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetd %s (built at %s)\n", Version, BuildTime)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func runServer(log *logrus.Logger, configPath string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := createServer(ctx, log, configPath)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Fleet controller is running. Press Ctrl+C to stop.")

	sig := <-sigCh
	log.Infof("Received signal %v, shutting down...", sig)

	cancel()

	if err := shutdownServer(server); err != nil {
		log.Errorf("Error during shutdown: %v", err)
	}

	log.Info("Shutdown complete")
}

func createServer(ctx context.Context, log *logrus.Logger, configPath string) (*FleetServer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	server := &FleetServer{logger: log}

	runtimeClient, err := runtime.NewDockerClient(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime client: %w", err)
	}
	server.runtimeClient = runtimeClient

	if err := runtimeClient.Ping(ctx); err != nil {
		return nil, fmt.Errorf("container runtime is unreachable: %w", err)
	}

	store, err := fleet.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance store: %w", err)
	}

	ledger, err := credits.NewLedger(filepath.Join(cfg.DataDir, "credits.db"), cfg.DefaultCredits, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open credit ledger: %w", err)
	}
	server.ledger = ledger

	manager := fleet.NewManager(runtimeClient, store, fleet.Options{
		BaseImage:             cfg.BaseImage,
		ParserCommand:         cfg.ParserCommand,
		MaxInstancesPerTenant: cfg.MaxInstancesPerTenant,
		AdminTenants:          cfg.AdminTenants,
		StopGrace:             time.Duration(cfg.StopGraceSeconds) * time.Second,
		ParseTimeout:          time.Duration(cfg.ParseTimeoutSeconds) * time.Second,
	}, log).WithCredits(ledger)
	server.manager = manager

	// Prime the registry before serving so the first requests see the fleet.
	manager.Refresh(ctx)
	manager.StartRefreshLoop(ctx, time.Duration(cfg.RefreshIntervalSeconds)*time.Second)

	webServer := web.NewServer(manager, ledger, log, cfg.WebPort)
	webServer.OnLimitChange(func(maxInstances int) error {
		cfg.MaxInstancesPerTenant = maxInstances
		return cfg.Save()
	})
	server.webServer = webServer

	if err := webServer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start web server: %w", err)
	}

	return server, nil
}

func shutdownServer(server *FleetServer) error {
	if server.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.webServer.Stop(ctx); err != nil {
			server.logger.Errorf("Failed to stop web server: %v", err)
		}
	}
	if server.ledger != nil {
		if err := server.ledger.Close(); err != nil {
			server.logger.Errorf("Failed to close credit ledger: %v", err)
		}
	}
	if server.runtimeClient != nil {
		if err := server.runtimeClient.Close(); err != nil {
			server.logger.Errorf("Failed to close runtime client: %v", err)
		}
	}
	return nil
}
