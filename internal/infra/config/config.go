package config

import (
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the configuration of the reward services.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev" validate:"oneof=dev test prod"`
	TZ     string `envconfig:"TZ" default:"Asia/Shanghai"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5" validate:"min=1"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Events struct {
		RabbitURL string `envconfig:"RABBITMQ_URL"`
		Queue     string `envconfig:"EVENTS_QUEUE" default:"reward_events" validate:"required"`
	} `envconfig:""`

	Ranking struct {
		CandidateLimit   int           `envconfig:"RANKING_CANDIDATE_LIMIT" default:"5" validate:"min=1,max=100"`
		MinRootComments  int           `envconfig:"RANKING_MIN_ROOT_COMMENTS" default:"0" validate:"min=0"`
		MinReplies       int           `envconfig:"RANKING_MIN_REPLIES" default:"0" validate:"min=0"`
		ActiveWindow     time.Duration `envconfig:"RANKING_ACTIVE_WINDOW" default:"0s" validate:"min=0"`
		Hour             int           `envconfig:"RANKING_HOUR" default:"1" validate:"min=0,max=23"`
		LikeBonusEnabled bool          `envconfig:"LIKE_BONUS_ENABLED" default:"true"`
	} `envconfig:""`

	Retention struct {
		Weekday int `envconfig:"RETENTION_WEEKDAY" default:"1" validate:"min=0,max=6"`
		Hour    int `envconfig:"RETENTION_HOUR" default:"2" validate:"min=0,max=23"`
	} `envconfig:""`

	Jobs struct {
		Workers int           `envconfig:"JOB_WORKERS" default:"4" validate:"min=1,max=64"`
		LockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"30m" validate:"min=1s"`
		Tick    time.Duration `envconfig:"JOB_TICK" default:"1m" validate:"min=1s"`
	} `envconfig:""`

	Ledger struct {
		MaxRetries    int           `envconfig:"LEDGER_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
		RetryBase     time.Duration `envconfig:"LEDGER_RETRY_BASE" default:"100ms" validate:"min=0"`
		SnowflakeNode int64         `envconfig:"SNOWFLAKE_NODE" default:"1" validate:"min=0,max=1023"`
	} `envconfig:""`
}

// Parse reads the config from the environment and validates it.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Load reads the config and exits the process on failure.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
