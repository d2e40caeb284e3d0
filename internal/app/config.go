package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/envutil"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// Config holds every tunable. Environment variables are the primary source; a
// yaml file named by CONFIG_FILE overrides whatever it sets, which is how
// deployments pin the loop bounds without rebuilding.
type Config struct {
	HTTPAddr     string   `yaml:"http_addr"`
	PublicURL    string   `yaml:"public_url"`
	AllowOrigins []string `yaml:"allow_origins"`

	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`

	QueueSecret      string `yaml:"queue_secret"`
	QueueMaxAttempts int    `yaml:"queue_max_attempts"`

	LockTimeout time.Duration `yaml:"lock_timeout"`
	StepTimeout time.Duration `yaml:"step_timeout"`

	DraftCycles        int `yaml:"draft_cycles"`
	RepairRounds       int `yaml:"repair_rounds"`
	MaxRefinementSteps int `yaml:"max_refinement_steps"`

	TracingEnabled bool `yaml:"tracing_enabled"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		HTTPAddr:           envutil.Str("HTTP_ADDR", ":8080"),
		PublicURL:          envutil.Str("PUBLIC_URL", "http://localhost:8080"),
		DatabaseURL:        envutil.Str("DATABASE_URL", ""),
		RedisAddr:          envutil.Str("REDIS_ADDR", ""),
		QueueSecret:        envutil.Str("QUEUE_SECRET", "dev-queue-secret"),
		QueueMaxAttempts:   envutil.Int("QUEUE_MAX_ATTEMPTS", 5),
		LockTimeout:        envutil.Duration("JOB_LOCK_TIMEOUT", 2*time.Minute),
		StepTimeout:        envutil.Duration("STEP_TIMEOUT", 10*time.Minute),
		DraftCycles:        envutil.Int("DRAFT_CYCLES", 3),
		RepairRounds:       envutil.Int("REPAIR_ROUNDS", 2),
		MaxRefinementSteps: envutil.Int("MAX_REFINEMENT_STEPS", 2),
		TracingEnabled:     envutil.Bool("TRACING_ENABLED", false),
	}

	if path := envutil.Str("CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		log.Info("config file applied", "path", path)
	}

	if cfg.DraftCycles < 1 {
		cfg.DraftCycles = 1
	}
	if cfg.RepairRounds < 0 {
		cfg.RepairRounds = 0
	}
	if cfg.MaxRefinementSteps < 0 {
		cfg.MaxRefinementSteps = 0
	}
	return cfg, nil
}

// StepEndpoint is the absolute URL queue tasks are pushed at.
func (c Config) StepEndpoint() string {
	return c.PublicURL + "/internal/queue/step"
}
