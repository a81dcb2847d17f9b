package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/finsight/internal/api"
	"github.com/SirClappington/finsight/internal/config"
	"github.com/SirClappington/finsight/internal/logger"
	"github.com/SirClappington/finsight/internal/queue"
	"github.com/SirClappington/finsight/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := migrate(cfg); err != nil {
		log.Fatalw("migrations failed", "error", err)
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("postgres connect failed", "error", err)
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	store := storage.New(db)
	q := queue.New(rdb)
	handler := api.NewHandler(api.Config{
		DataDir:                cfg.DataDir,
		MaxUploadBytes:         cfg.MaxUploadBytes,
		AnalysisMaxRetries:     cfg.AnalysisMaxRetries,
		VerificationMaxRetries: cfg.VerificationMaxRetries,
	}, store, q, log.Named("api"))

	srv := &http.Server{Addr: cfg.APIAddr, Handler: handler.Routes()}
	go func() {
		log.Infow("api listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("api server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown failed", "error", err)
	}
	log.Infow("api stopped")
}

func migrate(cfg config.Config) error {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, cfg.MigrationsDir)
}
