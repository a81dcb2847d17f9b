package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/finsight/internal/analyze"
	"github.com/SirClappington/finsight/internal/config"
	"github.com/SirClappington/finsight/internal/domain"
	"github.com/SirClappington/finsight/internal/extract"
	"github.com/SirClappington/finsight/internal/logger"
	"github.com/SirClappington/finsight/internal/pipeline"
	"github.com/SirClappington/finsight/internal/queue"
	"github.com/SirClappington/finsight/internal/reaper"
	"github.com/SirClappington/finsight/internal/storage"
	"github.com/SirClappington/finsight/internal/worker"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("postgres connect failed", "error", err)
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	store := storage.New(db)
	q := queue.New(rdb)
	capability := analyze.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, log.Named("analyze"))
	extractor := extract.NewPDF(cfg.MaxUploadBytes, log.Named("extract"))
	executor := pipeline.NewExecutor(capability, cfg.AnalysisSoftLimit, log.Named("executor"))
	coordinator := pipeline.NewCoordinator(extractor, executor, log.Named("pipeline"))
	sweeper := reaper.New(cfg.DataDir, cfg.FileRetention, log.Named("reaper"))

	pool := worker.NewPool(worker.Config{
		Queues:             []string{domain.QueueAnalysis, domain.QueueVerification, domain.QueueMaintenance},
		Concurrency:        cfg.WorkerConcurrency,
		MaxTasksPerUnit:    cfg.MaxTasksPerWorker,
		AnalysisLimits:     worker.Limits{Soft: cfg.AnalysisSoftLimit, Hard: cfg.AnalysisHardLimit},
		VerificationLimits: worker.Limits{Soft: cfg.VerificationSoftLimit, Hard: cfg.VerificationHardLimit},
		AnalysisPolicy:     worker.Policy{MaxRetries: cfg.AnalysisMaxRetries, TimeoutRetryDelay: cfg.TimeoutRetryDelay},
		VerificationPolicy: worker.Policy{MaxRetries: cfg.VerificationMaxRetries, TimeoutRetryDelay: cfg.TimeoutRetryDelay},
	}, q, store, coordinator, sweeper, log.Named("worker"))

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Infow("worker shutting down")
		cancel()
	}()

	log.Infow("worker pool starting", "concurrency", cfg.WorkerConcurrency)
	pool.Run(ctx)
	log.Infow("worker stopped")
}
