package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flitsinc/agent-worlds/internal/ai"
	"github.com/flitsinc/agent-worlds/internal/api"
	"github.com/flitsinc/agent-worlds/internal/config"
	"github.com/flitsinc/agent-worlds/internal/engine"
	"github.com/flitsinc/agent-worlds/internal/queue"
	"github.com/flitsinc/agent-worlds/internal/state"
	"github.com/flitsinc/agent-worlds/internal/world"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("create data dir failed", "error", err)
		os.Exit(1)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Error("open db failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := state.NewStore(db)
	queueStore := queue.NewStore(db,
		queue.WithDefaults(cfg.QueueMaxRetries, cfg.QueueTimeoutSeconds))

	var completer engine.Completer
	if cfg.LLMModel != "" && cfg.LLMAPIKey != "" {
		client, err := ai.NewClient(ai.Config{
			Provider: cfg.LLMProvider,
			Model:    cfg.LLMModel,
			APIKey:   cfg.LLMAPIKey,
		})
		if err != nil {
			log.Error("llm client init failed", "provider", cfg.LLMProvider, "error", err)
			os.Exit(1)
		}
		completer = client
	} else {
		log.Warn("llm not configured, agent responses disabled")
		completer = unavailableCompleter{}
	}

	manager := engine.NewManager(db, queueStore, store, completer, log)
	manager.PollInterval = cfg.PollInterval
	manager.HeartbeatInterval = cfg.HeartbeatInterval

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if err := restoreWorlds(runCtx, store, manager, log); err != nil {
		log.Error("restore worlds failed", "error", err)
		os.Exit(1)
	}

	reaper := &queue.Reaper{
		Store:           queueStore,
		Log:             log,
		ReapInterval:    cfg.ReapInterval,
		CleanupInterval: cfg.CleanupInterval,
		RetentionAge:    cfg.RetentionAge,
	}
	go reaper.Run(runCtx)

	apiServer := &api.Server{
		Manager:   manager,
		Store:     store,
		Queue:     queueStore,
		WebDir:    cfg.WebDir,
		StartedAt: time.Now().UTC(),
		TurnLimit: cfg.TurnLimit,
		Info: api.DiagnosticsInfo{
			HTTPAddr:    cfg.HTTPAddr,
			DataDir:     cfg.DataDir,
			DBPath:      cfg.DBPath,
			WebDir:      cfg.WebDir,
			LLMProvider: cfg.LLMProvider,
			LLMModel:    cfg.LLMModel,
		},
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(log, apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return runCtx
		},
	}

	go func() {
		log.Info("worldd listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	stopRun()
	manager.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	_ = httpServer.Close()
}

// restoreWorlds brings every persisted world back online with its agents'
// memory loaded.
func restoreWorlds(ctx context.Context, store *state.Store, manager *engine.Manager, log *slog.Logger) error {
	worlds, err := store.ListWorlds(ctx)
	if err != nil {
		return err
	}
	for _, w := range worlds {
		agents, err := store.ListAgents(ctx, w.ID)
		if err != nil {
			return err
		}
		for i, a := range agents {
			memory, err := store.LoadMemory(ctx, w.ID, a.ID)
			if err != nil {
				return err
			}
			a.Memory = memory
			agents[i] = a
		}
		manager.StartWorld(ctx, w, agents)
		log.Info("world restored", "world", w.ID, "agents", len(agents))
	}
	return nil
}

type unavailableCompleter struct{}

func (unavailableCompleter) Complete(context.Context, world.World, world.Agent, []world.Turn) (string, error) {
	return "", errors.New("llm not configured")
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
