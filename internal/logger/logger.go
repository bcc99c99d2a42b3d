// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	mu  sync.Mutex
	def *slog.Logger
	zl  *zap.Logger
)

// Init настраивает slog в зависимости от среды и ставит его по умолчанию.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "session-recorder"
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var (
		h slog.Handler
		z *zap.Logger
	)
	switch cfg.Backend {
	case BackendZap:
		h, z = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}
	h = traceHandler{h.WithAttrs(commonAttrs(cfg))}

	base := slog.New(h)
	slog.SetDefault(base)

	mu.Lock()
	def, zl = base, z
	mu.Unlock()
	return base
}

func L() *slog.Logger {
	mu.Lock()
	l := def
	mu.Unlock()
	if l != nil {
		return l
	}
	return Init(Config{})
}

// Component returns L() tagged with the component name.
func Component(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync flushes the zap backend, if any.
func Sync() error {
	mu.Lock()
	z := zl
	mu.Unlock()
	if z == nil {
		return nil
	}
	return z.Sync()
}

func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}
	hn, _ := os.Hostname()
	return hn + "-" + uuid.New().String()[:8]
}

func commonAttrs(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", time.Now()),
	}
}
