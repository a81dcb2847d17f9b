package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/config"
	"github.com/SirClappington/finsight/internal/domain"
	"github.com/SirClappington/finsight/internal/logger"
	"github.com/SirClappington/finsight/internal/queue"
	"github.com/SirClappington/finsight/internal/storage"
)

// One scheduler leads at a time; followers block on the advisory lock
// until the leader's session ends.
const leaderLockID = 42

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
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Infow("scheduler shutting down")
		cancel()
	}()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("postgres connect failed", "error", err)
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	store := storage.New(db)
	q := queue.New(rdb)

	// leader election: hold the advisory lock on a dedicated session
	conn, err := db.Acquire(ctx)
	if err != nil {
		log.Fatalw("acquire connection failed", "error", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", leaderLockID); err != nil {
		log.Fatalw("leader lock failed", "error", err)
	}
	log.Infow("scheduler leading")

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	reap := time.NewTicker(cfg.ReaperInterval)
	defer reap.Stop()

	queues := []string{domain.QueueAnalysis, domain.QueueVerification}
	for {
		select {
		case <-ctx.Done():
			log.Infow("scheduler stopped")
			return
		case <-reap.C:
			// the sweep runs on a worker; the scheduler only dispatches it
			if err := q.Enqueue(ctx, domain.QueueMaintenance, domain.SweepUnit); err != nil {
				log.Errorw("dispatch sweep failed", "error", err)
			}
		case <-tick.C:
			now := time.Now().UTC().Unix()

			// move due delayed jobs (retry backoff) onto ready lists
			for _, name := range queues {
				if err := q.MoveDue(ctx, name, now, 200); err != nil {
					log.Errorw("move due failed", "queue", name, "error", err)
				}
			}

			reclaimExpired(ctx, log, store, q)
		}
	}
}

// reclaimExpired redelivers attempts that blew the hard limit. An
// attempt ceiling already spent means the job fails terminally here
// rather than being requeued forever.
func reclaimExpired(ctx context.Context, log *zap.SugaredLogger, store *storage.Store, q *queue.RedisQ) {
	jobs, err := store.ExpiredLeases(ctx, 500)
	if err != nil {
		log.Errorw("expired lease scan failed", "error", err)
		return
	}
	for _, job := range jobs {
		if job.Attempt > job.MaxAttempts {
			reason := "timeout, retries exhausted"
			if err := store.MarkFailed(ctx, job.ID, reason); err != nil {
				log.Errorw("fail expired job failed", "job_id", job.ID, "error", err)
				continue
			}
			_ = store.LogAudit(ctx, job.ID, "reclaim", "failure", reason)
			log.Errorw("job failed after lease expiry", "job_id", job.ID, "attempt", job.Attempt)
			continue
		}
		if err := store.ClearLease(ctx, job.ID); err != nil {
			log.Errorw("clear lease failed", "job_id", job.ID, "error", err)
			continue
		}
		if err := q.Enqueue(ctx, job.Queue, job.ID); err != nil {
			log.Errorw("requeue expired job failed", "job_id", job.ID, "error", err)
			continue
		}
		log.Warnw("requeued expired lease", "job_id", job.ID, "attempt", job.Attempt)
	}
}

