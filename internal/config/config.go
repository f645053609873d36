package config

import (
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the process configuration read from the environment.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Tuning struct {
		// ConfigPath is the tuning document used when none is given on the
		// command line.
		ConfigPath string `env:"TUNER_CONFIG" envDefault:"tuner.yaml"`
	}
	Optimization struct {
		// WorkerCount caps the workers of any run. Zero means the number of
		// CPUs.
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"0"`
		// MaxJobs bounds concurrently running jobs in the server.
		MaxJobs int `env:"OPT_MAX_JOBS" envDefault:"4"`
		// RetainJobs bounds how many finished jobs the server keeps for
		// status queries. The oldest are dropped first.
		RetainJobs int `env:"OPT_RETAIN_JOBS" envDefault:"100"`
	}
}

// Load parses the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if cfg.Optimization.WorkerCount <= 0 {
		cfg.Optimization.WorkerCount = runtime.NumCPU()
	}
	if cfg.Optimization.MaxJobs <= 0 {
		cfg.Optimization.MaxJobs = 1
	}
	if cfg.Optimization.RetainJobs <= 0 {
		cfg.Optimization.RetainJobs = 1
	}

	return cfg, nil
}
