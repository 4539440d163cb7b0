package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcaengine/internal/api"
	"dcaengine/internal/config"
	"dcaengine/internal/feed"
	"dcaengine/internal/manager"
	"dcaengine/internal/store"
	"dcaengine/internal/websocket"
	"dcaengine/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger := utils.L().WithComponent("main")

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Sugar().Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Sugar().Info("connected to database")

	st := store.New(db)

	hub := websocket.NewHub()
	go hub.Run()

	priceFeed := feed.New()
	feedCtx, feedCancel := context.WithCancel(context.Background())
	go priceFeed.Run(feedCtx)

	mgr := manager.New(st, hub, priceFeed, manager.Config{
		RuntimeSaveDebounce: cfg.Bot.RuntimeSaveDebounce,
		ExchangeRateLimit:   cfg.Bot.ExchangeRateLimit,
		EncryptionKey:       []byte(cfg.Security.EncryptionKey),
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Initialize(initCtx); err != nil {
		logger.Sugar().Fatalf("failed to initialize manager: %v", err)
	}
	initCancel()

	router := api.SetupRoutes(&api.Dependencies{Mgr: mgr, Hub: hub})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Sugar().Infof("starting server on %s", server.Addr)
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Sugar().Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	mgr.Shutdown(shutdownCtx)
	feedCancel()
	priceFeed.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Fatalf("server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
