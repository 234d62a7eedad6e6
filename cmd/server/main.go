package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/kbagent/config"
	"github.com/wuwenbin0122/kbagent/handlers"
	"github.com/wuwenbin0122/kbagent/internal/api"
	"github.com/wuwenbin0122/kbagent/internal/session"
	"github.com/wuwenbin0122/kbagent/internal/utils"
	"github.com/wuwenbin0122/kbagent/internal/watcher"
	"github.com/wuwenbin0122/kbagent/services"
)

func main() {
	cfg, err := config.Load()
	if cfg == nil {
		utils.Logger().Sugar().Fatalf("config: failed to load: %v", err)
	}

	logger, logErr := utils.NewLogger(cfg.Logging)
	if logErr != nil {
		utils.Logger().Sugar().Fatalf("logger: failed to initialise: %v", logErr)
	}
	defer utils.Flush()
	sugar := logger.Sugar()

	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			sugar.Fatalf("❌ %v", err)
		}
		sugar.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aggregator := services.NewDocumentAggregator(sugar.Named("documents"))

	// refuse to serve without a usable documents folder
	kb, err := aggregator.Load(ctx, cfg.DocumentsDir)
	if err != nil {
		sugar.Fatalf("❌ %s (folder %q): %v", handlers.LoadErrorMessage(err), cfg.DocumentsDir, err)
	}
	sugar.Infow("knowledge base ready", "status", kb.Status(), "dir", cfg.DocumentsDir, "warnings", len(kb.Warnings))

	var monitor api.FolderMonitor
	if cfg.WatchDocuments {
		docWatcher, err := watcher.NewDocumentWatcher(cfg.DocumentsDir, sugar.Named("watcher"))
		if err != nil {
			sugar.Fatalf("watcher: failed to create: %v", err)
		}
		if err := docWatcher.Start(ctx); err != nil {
			sugar.Fatalf("watcher: failed to start: %v", err)
		}
		defer func() {
			if err := docWatcher.Close(); err != nil {
				sugar.Warnf("watcher: close error: %v", err)
			}
		}()
		monitor = docWatcher
	}

	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, session.Dependencies{
		DocumentsDir: cfg.DocumentsDir,
		Loader:       aggregator,
		Generator:    services.NewAnswerService(cfg, sugar.Named("groq")),
	})
	if err != nil {
		sugar.Fatalf("failed to initialise session manager: %v", err)
	}

	router, err := setupRouter(cfg, sessions, monitor, sugar)
	if err != nil {
		sugar.Fatalf("failed to set up routes: %v", err)
	}

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// answers can take as long as the model call
		WriteTimeout: cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(cfg *config.Config, sessions *session.Manager, monitor api.FolderMonitor, logger *zap.SugaredLogger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler, err := api.NewHandler(cfg, sessions, monitor, logger)
	if err != nil {
		return nil, err
	}
	handler.RegisterRoutes(router)

	return router, nil
}
