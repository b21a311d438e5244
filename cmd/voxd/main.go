package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"voxd/internal/bootstrap"
	"voxd/internal/config"
	"voxd/internal/ipc"
	"voxd/internal/portal"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxd: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, cfg, log); err != nil {
		log.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

func run(ctx context.Context, configPath string, cfg config.Config, log zerolog.Logger) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}
	defer conn.Close()

	store := ipc.NewStore(configPath, cfg)
	svc, err := ipc.Serve(conn, store, log)
	if err != nil {
		return err
	}

	// Config changes over IPC rebind the shortcut, which needs fresh portal
	// sessions; each pass of this loop is one portal session generation.
	for {
		again, err := runSession(ctx, conn, store, svc, log)
		if err != nil || !again {
			return err
		}
		log.Info().Msg("restarting with updated configuration")
	}
}

func runSession(ctx context.Context, conn *dbus.Conn, store *ipc.Store, svc *ipc.Service, log zerolog.Logger) (bool, error) {
	cfg := store.Config()

	mgr, err := portal.NewManager(conn, cfg.Shortcut, cfg.TokenPath(), log)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Close(closeCtx)
	}()

	if err := mgr.Connect(ctx); err != nil {
		return false, fmt.Errorf("negotiating portal sessions: %w", err)
	}
	svc.PortalConnected(true)

	eng, err := bootstrap.Build(cfg, bootstrap.Deps{
		Portal:      mgr,
		Keyboard:    mgr,
		Sink:        svc,
		Transcriber: store.Transcriber,
		Log:         log,
	})
	if err != nil {
		return false, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(runCtx) }()

	stopEngine := func() {
		cancel()
		<-engineDone
	}

	select {
	case <-ctx.Done():
		stopEngine()
		log.Info().Msg("shutting down")
		return false, nil
	case <-store.ShutdownRequests():
		stopEngine()
		log.Info().Msg("shutdown requested, exiting")
		return false, nil
	case <-store.RestartRequests():
		stopEngine()
		return true, nil
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return false, fmt.Errorf("engine stopped: %w", err)
		}
		return false, nil
	}
}
