package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	DataDir       string `env:"DATA_DIR" envDefault:"data"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"db/migrations"`

	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4-turbo"`

	// Per-attempt time limits. The soft limit is the deadline the
	// pipeline observes; the hard limit is the queue lease after which
	// the scheduler reclaims and redelivers the attempt.
	AnalysisSoftLimit     time.Duration `env:"ANALYSIS_SOFT_LIMIT" envDefault:"600s"`
	AnalysisHardLimit     time.Duration `env:"ANALYSIS_HARD_LIMIT" envDefault:"900s"`
	VerificationSoftLimit time.Duration `env:"VERIFICATION_SOFT_LIMIT" envDefault:"120s"`
	VerificationHardLimit time.Duration `env:"VERIFICATION_HARD_LIMIT" envDefault:"180s"`

	AnalysisMaxRetries     int           `env:"ANALYSIS_MAX_RETRIES" envDefault:"3"`
	VerificationMaxRetries int           `env:"VERIFICATION_MAX_RETRIES" envDefault:"2"`
	TimeoutRetryDelay      time.Duration `env:"TIMEOUT_RETRY_DELAY" envDefault:"60s"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`
	MaxTasksPerWorker int `env:"WORKER_MAX_TASKS_PER_CHILD" envDefault:"1000"`

	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	FileRetention  time.Duration `env:"FILE_RETENTION" envDefault:"24h"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"24h"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
