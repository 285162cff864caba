// Command aether runs the Aether kernel: the ClientGateway, ProcessManager,
// AgentLoop pool, and their supporting services in a single process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aethersystems/aether/internal/agentloop"
	"github.com/aethersystems/aether/internal/auth"
	"github.com/aethersystems/aether/internal/clock"
	"github.com/aethersystems/aether/internal/config"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/gateway"
	"github.com/aethersystems/aether/internal/kv"
	"github.com/aethersystems/aether/internal/llmprovider"
	"github.com/aethersystems/aether/internal/memorystore"
	"github.com/aethersystems/aether/internal/process"
	"github.com/aethersystems/aether/internal/sandbox"
	"github.com/aethersystems/aether/internal/toolregistry"
	"github.com/aethersystems/aether/internal/tools"
)

// Exit codes per spec §6: 0 clean shutdown, 1 config error, 2 unrecoverable
// runtime error.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

var configPath string
var overrides config.Overrides

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	root.SilenceUsage = true
	root.SilenceErrors = false
	if err := root.Execute(); err != nil {
		if exitCode == exitOK {
			exitCode = exitConfigError
		}
	}
	return exitCode
}

// exitCode is set by runServer so the cobra RunE boundary (which only
// reports config/parse errors) can still distinguish a clean shutdown from
// an unrecoverable runtime failure.
var exitCode = exitOK

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aether",
		Short: "Aether is an operating system for AI agents.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to aether.yaml")
	flags.StringVar(&overrides.ListenAddr, "listen-addr", "", "HTTP/WebSocket listen address")
	flags.StringVar(&overrides.DataDir, "data-dir", "", "directory for sandbox workspaces")
	flags.StringVar(&overrides.LLMProvider, "llm-provider", "", "LLM provider name")
	flags.StringVar(&overrides.LLMAPIKey, "llm-api-key", "", "LLM provider API key")
	flags.StringVar(&overrides.JWTSecret, "jwt-secret", "", "HMAC secret for bearer tokens")
	return cmd
}

func runServer() error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config: load failed", "error", err)
		exitCode = exitConfigError
		return err
	}
	cfg = config.Apply(cfg, config.EnvOverrides())
	cfg = config.Apply(cfg, overrides)
	if err := cfg.Validate(); err != nil {
		logger.Error("config: invalid", "error", err)
		exitCode = exitConfigError
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("config: cannot create data dir", "error", err)
		exitCode = exitConfigError
		return err
	}

	bus := eventbus.New()
	sysClock := clock.System{}
	ids := clock.NewSequentialIDGenerator()
	provisioner := sandbox.NewLocalProvisioner(filepath.Join(cfg.DataDir, "sandboxes"))
	store := kv.NewMemoryStore()
	memory := memorystore.New(store, sysClock, bus)

	provider := newLLMProvider(cfg.LLM)

	registry := toolregistry.New()
	mgr := process.New(bus, sysClock, ids, provisioner,
		process.WithPerUIDCap(cfg.Process.PerUIDCap),
		process.WithGlobalCap(cfg.Process.GlobalCap),
		process.WithZombieGrace(cfg.Process.ZombieGrace),
	)
	if err := tools.RegisterAll(registry, memory, mgr); err != nil {
		logger.Error("tools: registration failed", "error", err)
		exitCode = exitRuntimeError
		return err
	}
	registry.Seal()

	loop := agentloop.New(mgr, bus, registry, provider, memory, sysClock)
	mgr.SetStarter(loop)

	stopReaper, err := mgr.StartReaper(cfg.Process.ReaperSchedule)
	if err != nil {
		logger.Error("process: reaper failed to start", "error", err)
		exitCode = exitRuntimeError
		return err
	}
	defer stopReaper()

	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	gw := gateway.New(authSvc, bus, mgr, memory, logger)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("aether: listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("aether: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("aether: shutdown error", "error", err)
			exitCode = exitRuntimeError
			return err
		}
		exitCode = exitOK
		return nil
	case err := <-serveErr:
		if err != nil {
			logger.Error("aether: server failed", "error", err)
			exitCode = exitRuntimeError
			return err
		}
		exitCode = exitOK
		return nil
	}
}

// newLLMProvider constructs the configured LLMProvider. Concrete HTTP-backed
// providers (Anthropic, OpenAI, ...) are external collaborators per spec
// §1's Non-goals; absent one wired in by a deployment, Aether runs against
// the deterministic in-memory Stub so the kernel and its tests still have a
// concrete, retry-wrapped LLMProvider to drive against.
func newLLMProvider(cfg config.LLMConfig) llmprovider.LLMProvider {
	return llmprovider.WithRetry(&llmprovider.Stub{})
}
