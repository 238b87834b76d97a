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

	"github.com/zhouzirui/z-speak/backend/internal/app"
	"github.com/zhouzirui/z-speak/backend/internal/config"
	"github.com/zhouzirui/z-speak/backend/internal/handler"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
	"github.com/zhouzirui/z-speak/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	services, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}

	deps := handler.Dependencies{
		Questions:      services.Questions,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if services.Narrator != nil {
		deps.Narrator = services.Narrator
	}

	// 历史记录是可选的，数据库打不开时继续运行
	var attemptStore practiceService.AttemptStore
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Printf("warning: failed to open attempt store: %v", err)
		} else {
			defer db.Close()
			attemptStore = db
			deps.Attempts = db
			log.Printf("attempt store opened at %s", cfg.Store.Path)
		}
	}

	practiceSvc := practiceService.NewService(services.Questions, services.Pipeline, attemptStore, services.PracticeConfig(cfg.Recorder))
	defer practiceSvc.Shutdown()
	deps.Practice = practiceSvc

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Speak backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
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
