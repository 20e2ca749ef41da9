package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jhyang-dev/reverie/backend/internal/config"
	"github.com/jhyang-dev/reverie/backend/internal/handler"
	"github.com/jhyang-dev/reverie/backend/internal/model/persona"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/provider"
	"github.com/jhyang-dev/reverie/backend/internal/service/billing"
	"github.com/jhyang-dev/reverie/backend/internal/service/chat"
	"github.com/jhyang-dev/reverie/backend/internal/service/embedding"
	memoryservice "github.com/jhyang-dev/reverie/backend/internal/service/memory"
	"github.com/jhyang-dev/reverie/backend/internal/store"
)

// startingBalance is the points grant for the development ledger. The real
// billing service replaces this in production deployments.
const startingBalance = 500

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	// Storage: Postgres with pgvector when reachable, in-memory otherwise.
	var (
		rooms    store.RoomRepo
		messages store.MessageRepo
		memRepo  store.MemoryRepo
	)
	if db, dbErr := store.Open(cfg.Database, lg); dbErr != nil {
		lg.Warn("database unavailable, using in-memory storage", "error", dbErr)
		rooms = store.NewMemoryRoomRepo()
		messages = store.NewMemoryMessageRepo()
		memRepo = store.NewMemoryVectorRepo()
	} else {
		rooms = store.NewRoomRepo(db, lg)
		messages = store.NewMessageRepo(db, lg)
		memRepo = store.NewMemoryRepo(db, lg)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())

	registry := provider.NewRegistry(cfg.Providers.DefaultModel)
	if cfg.Providers.OpenAI.Enabled() {
		registry.Register(provider.NewOpenAI(cfg.Providers.OpenAI, lg))
		lg.Info("openai adapter registered")
	}
	if cfg.Providers.Anthropic.Enabled() {
		registry.Register(provider.NewAnthropic(cfg.Providers.Anthropic, lg))
		lg.Info("anthropic adapter registered")
	}
	if cfg.Providers.Gemini.Enabled() {
		registry.Register(provider.NewGemini(cfg.Providers.Gemini, lg))
		lg.Info("gemini adapter registered")
	}
	if cfg.Providers.Ark.Enabled() {
		chatModel, arkErr := cfg.Providers.Ark.NewChatModel(ctx)
		if arkErr != nil {
			lg.Warn("failed to initialize ark model, skipping", "error", arkErr)
		} else {
			registry.Register(provider.NewArk(chatModel, lg))
			lg.Info("ark adapter registered")
		}
	}
	provider.RegisterDefaultRoutes(registry)

	// Semantic memory needs the OpenAI embeddings endpoint; without it the
	// chat path runs with memory disabled.
	var memorySvc *memoryservice.Service
	memoryEnabled := cfg.Memory.Enabled && cfg.Providers.OpenAI.Enabled()
	if memoryEnabled {
		embedder := embedding.NewOpenAIEmbedder(cfg.Providers.OpenAI, cfg.Memory.EmbeddingModel, lg)
		memorySvc = memoryservice.NewService(memRepo, embedder, registry, cfg.Providers.DefaultModel, lg)
		lg.Info("memory service enabled", "model", cfg.Memory.EmbeddingModel)
	} else {
		lg.Info("memory service disabled")
	}

	ledger := billing.NewMemoryLedger(startingBalance)

	chatSvc := chat.NewService(
		rooms,
		messages,
		personaStore,
		registry,
		memorySvc,
		ledger,
		memoryEnabled,
		cfg.Memory.RetrievalLimit,
		lg,
	)

	router := handler.NewRouter(personaStore, chatSvc, lg)

	startServer(ctx, cfg.Server, router, lg)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, lg *logger.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lg.Info("reverie backend listening", "addr", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		lg.Fatal("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
