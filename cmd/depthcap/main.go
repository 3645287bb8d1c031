package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/depthcap/internal/api"
	"github.com/zsiec/depthcap/internal/capturelog"
	"github.com/zsiec/depthcap/internal/certs"
	"github.com/zsiec/depthcap/internal/config"
	"github.com/zsiec/depthcap/internal/encoder"
	"github.com/zsiec/depthcap/internal/encoder/gstmp4"
	"github.com/zsiec/depthcap/internal/media"
	"github.com/zsiec/depthcap/internal/pipeline"
	"github.com/zsiec/depthcap/internal/sensor"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "depthcap.toml", "path to TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})))

	if err := run(cfg); err != nil {
		slog.Error("depthcap stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := os.MkdirAll(cfg.Capture.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}

	id, err := loadIdentity(cfg.API)
	if err != nil {
		return err
	}

	store, err := capturelog.Open(cfg.DB.DSN, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	colorIn := media.Dimensions{Width: cfg.Color.Width, Height: cfg.Color.Height}
	track := encoder.TrackConfig{
		Width:  cfg.Color.Width,
		Height: cfg.Color.Height,
		FPS:    cfg.Capture.FPS,
		Codec:  cfg.Color.Codec,
	}
	var factory encoder.WriterFactory
	switch cfg.Encoder.Kind {
	case "discard":
		factory = encoder.NewDiscardWriter
	default:
		factory = gstmp4.Factory(colorIn, nil)
	}
	session := encoder.NewSession(factory, track)

	p := pipeline.New(pipeline.Config{
		Depth:          media.Dimensions{Width: cfg.Depth.Width, Height: cfg.Depth.Height},
		BytesPerSample: cfg.Depth.BytesPerSample,
		FPS:            cfg.Capture.FPS,
		Platform:       byte(cfg.Capture.PlatformTag),
		SettleDelay:    cfg.Capture.SettleDelay.Duration,
		JPEGQuality:    cfg.Capture.JPEGQuality,
		EncodeQueue:    cfg.Encoder.Queue,
		OnCapture:      store.Hook(),
	}, session, nil)

	cam := sensor.New(sensor.Config{
		FPS:        cfg.Capture.FPS,
		Color:      colorIn,
		Depth:      media.Dimensions{Width: cfg.Depth.Width, Height: cfg.Depth.Height},
		PhotoColor: media.Dimensions{Width: cfg.Color.PhotoWidth, Height: cfg.Color.PhotoHeight},
		PhotoDepth: media.Dimensions{Width: cfg.Depth.PhotoWidth, Height: cfg.Depth.PhotoHeight},
	}, p)
	p.SetCamera(cam)

	srv := api.New(api.Config{
		Addr:      cfg.API.Addr,
		H3Addr:    cfg.API.H3Addr,
		TLS:       id.TLSConfig(),
		OutputDir: cfg.Capture.OutputDir,
		Platform:  byte(cfg.Capture.PlatformTag),
		FPS:       cfg.Capture.FPS,
	}, p, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("depthcap starting",
		"version", version,
		"api", cfg.API.Addr,
		"h3", cfg.API.H3Addr,
		"output", cfg.Capture.OutputDir,
		"encoder", cfg.Encoder.Kind,
		"cert_sha256", id.FingerprintHex(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return cam.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error {
		select {
		case <-p.DataAvailable():
			slog.Info("depth data flowing", "distance", p.DistanceString())
		case <-ctx.Done():
		}
		return nil
	})
	return g.Wait()
}

func loadIdentity(cfg config.API) (*certs.Identity, error) {
	if cfg.CertFile != "" {
		id, err := certs.Load(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("TLS identity: %w", err)
		}
		slog.Info("certificate loaded", "file", cfg.CertFile, "expires", id.NotAfter.Format(time.RFC3339))
		return id, nil
	}
	id, err := certs.Generate(certs.Options{Hosts: cfg.Hosts})
	if err != nil {
		return nil, fmt.Errorf("TLS identity: %w", err)
	}
	slog.Info("self-signed certificate generated", "expires", id.NotAfter.Format(time.RFC3339))
	return id, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
