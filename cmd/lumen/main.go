package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumen-live/lumen/api"
	"github.com/lumen-live/lumen/certs"
	"github.com/lumen-live/lumen/config"
	"github.com/lumen-live/lumen/decode"
	"github.com/lumen-live/lumen/metrics"
	"github.com/lumen-live/lumen/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := cfg.SlogLevel()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("lumen starting",
		"version", version,
		"api", cfg.APIAddr,
		"stream", cfg.StreamURL,
		"auto_reconnect", cfg.AutoReconnect,
	)

	m := metrics.New(nil)
	sub := m.Wrap(&logSubscriber{log: slog.Default()})

	sess := session.New(
		session.Config{AutoReconnect: cfg.AutoReconnect},
		decode.NopVideoBackend{},
		decode.NopAudioBackend{},
		sub,
		slog.Default(),
	)

	apiSrv := api.New(cfg.APIAddr, sess, cert, nil, slog.Default())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiSrv.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		sess.Close()
		return nil
	})

	if cfg.StreamURL != "" {
		if err := sess.Play(cfg.StreamURL); err != nil {
			slog.Error("failed to start playback", "error", err)
			cancel()
		}
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// logSubscriber is the terminal sink for a headless run. Media samples are
// dropped; lifecycle and statistics events are logged.
type logSubscriber struct {
	log *slog.Logger
}

func (l *logSubscriber) OnEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChange:
		if ev.Cause != "" {
			l.log.Info("state change", "state", ev.State.String(), "cause", ev.Cause)
			return
		}
		l.log.Info("state change", "state", ev.State.String())
	case session.EventVideoConfig:
		l.log.Info("video config", "width", ev.Width, "height", ev.Height, "data_rate", ev.DataRate)
	case session.EventStatistics:
		l.log.Debug("statistics",
			"fps", ev.Stats.Playback.FPS,
			"frames", ev.Stats.Playback.TotalFrames,
			"dropped", ev.Stats.Playback.DroppedFrames,
			"bytes", ev.Stats.Transport.BytesReceived,
			"rate_bps", ev.Stats.Transport.ReceiveRateBps,
		)
	case session.EventCleanup:
		l.log.Info("playback attempt cleaned up")
	}
}
