// Command broker runs the task-delegation broker: it loads
// configuration, wires the registry/workspace/adapter/collaborator
// components, and serves the tool-surface HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/adapter/local"
	"github.com/tarsybroker/broker/pkg/adapter/remote"
	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/collaborator/slack"
	"github.com/tarsybroker/broker/pkg/config"
	"github.com/tarsybroker/broker/pkg/control"
	"github.com/tarsybroker/broker/pkg/orchestrator"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/rpc"
	"github.com/tarsybroker/broker/pkg/version"
	"github.com/tarsybroker/broker/pkg/workspace"
	"github.com/tarsybroker/broker/pkg/workspace/pgstore"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	log.Printf("Starting %s", version.Full())
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	store, closeStore, err := newStore(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize workspace store: %v", err)
	}
	defer closeStore()

	reg := registry.New(cfg.Registry)
	reg.StartSweep(ctx)
	defer reg.StopSweep()

	docs := workspace.New(store, cfg.Workspace)

	ad := newAdapter(cfg)

	var room collaborator.RoomBackend
	if slackService := slack.New(slack.Config{
		Token:   os.Getenv(cfg.Slack.TokenEnv),
		Channel: cfg.Slack.Channel,
	}); slackService != nil {
		room = slackService
		log.Println("Slack room collaboration enabled")
	} else if cfg.Slack.Enabled {
		log.Println("Warning: rooms_enabled is true but Slack token/channel are not set; continuing without rooms")
	}

	orch := orchestrator.New(cfg.OrchestratorConfig(), reg, docs, ad, room, nil)
	orch.StartOrphanSweep(ctx)
	defer orch.StopOrphanSweep()

	ctrl := control.New(reg, ad, nil, docs, room)

	server := rpc.New(orch, reg, docs, ctrl, ad, room)

	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during HTTP server shutdown: %v", err)
	}
}

// newStore selects the workspace document store: Postgres-backed when
// BROKER_STORE=postgres, otherwise the in-memory store used by default
// and in tests.
func newStore(ctx context.Context) (workspace.Store, func(), error) {
	if getEnv("BROKER_STORE", "memory") != "postgres" {
		log.Println("Using in-memory workspace store")
		return workspace.NewMemStore(), func() {}, nil
	}

	dbCfg, err := pgstore.LoadConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	pgStore, err := pgstore.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	log.Println("Using Postgres-backed workspace store")
	return pgStore, pgStore.Close, nil
}

// newAdapter selects the execution backend: Backend A (local sandboxed
// process) or Backend B (remote worker server over MCP), per
// cfg.Backend.Execution.
func newAdapter(cfg *config.Config) adapter.Adapter {
	switch cfg.Backend.Execution {
	case config.BackendRemote:
		workerURL := getEnv("BROKER_REMOTE_WORKER_URL", "http://localhost:9090")
		return remote.New(remote.Config{
			Transport:    &mcpsdk.StreamableClientTransport{Endpoint: workerURL},
			PollInterval: remote.DefaultConfig().PollInterval,
		})
	default:
		return local.New(local.Config{
			Command:     local.DefaultConfig().Command,
			WorkDir:     getEnv("BROKER_WORKSPACE_DIR", local.DefaultConfig().WorkDir),
			GracePeriod: time.Duration(cfg.Backend.GraceMS) * time.Millisecond,
		})
	}
}
