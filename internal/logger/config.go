package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Backend string

const (
	BackendStd Backend = "std" // text
	BackendZap Backend = "zap" // JSON через slog-zap
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level     slog.Level
	Env       Env
	Backend   Backend // пусто: std в dev, zap в stage/prod
	Debug     bool
	AddSource bool

	// Zap sampling, за секунду
	SampleInitial    int
	SampleThereafter int

	// Output defaults to stdout. The egress runner reads the recording
	// markers from stdout too, so production deployments usually point this
	// at stderr.
	Output io.Writer
}

func DetectEnv() Env {
	return ParseEnv(os.Getenv("APP_ENV"))
}

func ParseEnv(raw string) Env {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod", "pre-production":
		return EnvStage
	default:
		return EnvDev
	}
}

// ParseLevel понимает debug/info/warn/error, остальное — info.
func ParseLevel(raw string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c Config) level() slog.Level {
	if c.Debug && c.Level == 0 {
		return slog.LevelDebug
	}
	return c.Level
}

func (c Config) output() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}
