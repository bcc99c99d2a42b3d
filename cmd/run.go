package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwrk-planet/session-recorder/config"
	"github.com/cwrk-planet/session-recorder/internal/livekit"
	"github.com/cwrk-planet/session-recorder/internal/logger"
	"github.com/cwrk-planet/session-recorder/internal/postgres"
	"github.com/cwrk-planet/session-recorder/internal/presentation"
	"github.com/cwrk-planet/session-recorder/internal/recording"
	"github.com/cwrk-planet/session-recorder/internal/session"
	grpcx "github.com/cwrk-planet/session-recorder/internal/transport/grpc"
	httpx "github.com/cwrk-planet/session-recorder/internal/transport/http"
	"github.com/cwrk-planet/session-recorder/internal/transport/ws"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the room and serve diagnostics until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func initLogger(cfg *config.Config) *slog.Logger {
	lc := logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	}
	if cfg.Logging.Stderr {
		lc.Output = os.Stderr
	}
	return logger.Init(lc)
}

func run(ctx context.Context, cfg *config.Config) error {
	log := initLogger(cfg)
	defer func() { _ = logger.Sync() }()
	log.Info("starting session-recorder", "env", cfg.Logging.Env, "version", cfg.Logging.Version)

	if cfg.LiveKit.UsesToken() {
		info, err := livekit.InspectToken(cfg.LiveKit.Token, time.Now())
		if err != nil {
			return fmt.Errorf("livekit.token: %w", err)
		}
		log.Info("using access token", "room", info.Room, "identity", info.Identity, "expires_at", info.ExpiresAt)
	}

	// --- recording signals ---
	var signals recording.Multi
	if cfg.Recording.Console() {
		signals = append(signals, recording.NewConsole(os.Stdout))
	}
	sessionID := uuid.NewString()
	if cfg.MQTT.Broker != "" {
		mq := recording.NewMQTT(recording.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		}, sessionID, logger.Component("mqtt"))
		if err := mq.Connect(ctx); err != nil {
			return err
		}
		defer mq.Close()
		signals = append(signals, mq)
	}

	// --- session ---
	lk := livekit.New(livekit.Config{
		URL:       cfg.LiveKit.URL,
		Token:     cfg.LiveKit.Token,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		Room:      cfg.LiveKit.Room,
		Identity:  cfg.LiveKit.Identity,
	}, logger.Component("livekit"))
	defer lk.Close()

	sess := session.New(session.Options{
		ID:       sessionID,
		Roster:   lk,
		Sampler:  lk,
		Signaler: signals,
		Policy:   presentation.ParsePolicy(cfg.Recording.Policy),
		Logger:   logger.Component("session"),
	})

	// --- observers ---
	hub := ws.NewHub(logger.Component("ws"))
	sess.Subscribe(hub)
	health := grpcx.NewHealth(logger.Component("grpc"))
	sess.Subscribe(health)

	var journalSrc httpx.JournalSource
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{DSN: cfg.Postgres.DSN, ApplicationName: cfg.Logging.Service})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		repo := postgres.NewJournalRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		journal := postgres.NewJournal(repo, logger.Component("journal"))
		defer journal.Close()
		sess.Subscribe(journal)
		journalSrc = repo
	}

	// --- HTTP ---
	wsServer := ws.NewServer(hub, sess, logger.Component("ws"))
	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpx.NewRouter(httpx.Deps{
			Source:    sess,
			WS:        wsServer.HandleWS,
			Logger:    logger.Component("http"),
			Journal:   journalSrc,
			SessionID: sess.ID(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC ---
	grpcServer := grpcx.NewServer(health, logger.Component("grpc"))

	// --- run ---
	errCh := make(chan error, 3)

	go func() {
		log.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		log.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	go func() {
		if err := sess.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	err := lk.Connect(connectCtx, sess)
	cancelConnect()
	if err != nil {
		sess.Close()
	} else {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal")
		case <-sess.Done():
			log.Info("session ended")
		case err = <-errCh:
			log.Error("server error", "err", err)
		}
	}

	// --- graceful shutdown ---
	sess.Close()
	lk.Close()
	health.Shutdown()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	_ = httpSrv.Shutdown(ctxShutdown)
	log.Info("stopped")
	return err
}
