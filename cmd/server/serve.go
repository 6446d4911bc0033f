package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/admin"
	"github.com/avaropoint/camlink/internal/archive"
	"github.com/avaropoint/camlink/internal/config"
	"github.com/avaropoint/camlink/internal/device"
	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/metrics"
	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/security"
	"github.com/avaropoint/camlink/internal/server"
	"github.com/avaropoint/camlink/internal/store"
	"github.com/avaropoint/camlink/internal/util"
	"github.com/avaropoint/camlink/internal/version"
)

func serveCmd(path *string) *cobra.Command {
	var resize string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the camera server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*path)
			if err != nil {
				return err
			}
			if err := logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
				return err
			}
			return serve(cmd.Context(), *path, cfg, resize)
		},
	}
	cmd.Flags().StringVar(&resize, "resize", "bilinear", "preview interpolator: nearest, bilinear, catmullrom")
	return cmd
}

func serve(ctx context.Context, path string, cfg *config.Config, resize string) error {
	log := logging.With(logging.Component("main"))
	log.Info("camlink server starting",
		"version", version.Version,
		"built", version.BuildTime,
		"protocol", protocol.FormatVersion(protocol.Version))

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	m := metrics.New()

	if !cfg.Camera.Simulated {
		return errors.New("no camera driver is built in; set camera.simulated: true")
	}
	cam := device.NewSimulator(device.SimulatorConfig{
		Serial:     cfg.Camera.Serial,
		ExposureUs: float64(cfg.Camera.DefaultExposure),
		Gain:       float64(cfg.Camera.DefaultGain) / 100,
	})
	if err := cam.Connect(ctx); err != nil {
		// The server still starts; the broadcast loop keeps retrying.
		log.Warn("camera not available at startup", logging.Err(err))
	}
	defer cam.Disconnect() //nolint:errcheck
	m.SetCameraConnected(cam.Connected())

	hub := admin.NewHub()
	deps := server.Deps{
		Camera: cam,
		Storage: device.NewFileStorage(device.StorageConfig{
			ImagePath:    cfg.Storage.ImagePath,
			VideoPath:    cfg.Storage.VideoPath,
			JPEGQuality:  cfg.Storage.JPEGQuality,
			MinFreeBytes: uint64(cfg.Storage.MinFreeMB) << 20,
		}),
		Encoder:  device.JPEGEncoder{},
		Resizer:  device.NewResizer(resize),
		Store:    db,
		Metrics:  m,
		Observer: hub,
	}

	if cfg.Archive.Enabled {
		up, err := archive.NewS3Uploader(cfg.Archive)
		if err != nil {
			return err
		}
		arch := archive.New(archive.Options{
			Prefix:  cfg.Archive.Prefix,
			Workers: cfg.Archive.Workers,
			Retry: &util.RetryConfig{
				MaxRetries: cfg.Archive.MaxRetries,
				BaseDelay:  time.Second,
				MaxDelay:   time.Minute,
				Multiplier: 2,
				Jitter:     0.1,
			},
		}, up, db, m)
		arch.Start()
		defer arch.Close()
		if n, err := arch.Backfill(ctx); err != nil {
			log.Warn("archive backfill failed", logging.Err(err))
		} else if n > 0 {
			log.Info("archive backfill queued", "files", n)
		}
		deps.Archive = arch
	}

	srv := server.New(server.OptionsFrom(cfg), deps)

	if cfg.Admin.Enabled {
		adm := admin.New(admin.Options{
			Addr:          cfg.Admin.Addr,
			RequireAPIKey: cfg.Admin.RequireAPIKey,
			TLS: security.TLSOptions{
				Mode:     cfg.Admin.TLS,
				Dir:      cfg.Admin.TLSDir,
				CertFile: cfg.Admin.CertFile,
				KeyFile:  cfg.Admin.KeyFile,
				Domains:  cfg.Admin.Domains,
			},
			Volumes: []string{cfg.Storage.ImagePath, cfg.Storage.VideoPath},
		}, admin.Deps{Source: srv, Store: db, Metrics: m, Hub: hub})
		util.SafeGoWithName("admin", func() {
			if err := adm.ListenAndServe(ctx); err != nil {
				log.Error("admin server stopped", logging.Err(err))
			}
		})
	}

	util.SafeGoWithName("config-watch", func() {
		err := config.Watch(ctx, path, func(c *config.Config) {
			if lvl, err := logging.ParseLevel(c.Log.Level); err == nil && lvl != logging.Level() {
				logging.SetLevel(lvl)
				log.Info("log level changed", "level", lvl.String())
			}
			lo, hi := srv.Congestion().QualityBounds()
			if c.Preview.MinQuality != lo || c.Preview.MaxQuality != hi {
				if err := srv.SetPreviewQuality(c.Preview.MinQuality, c.Preview.MaxQuality); err != nil {
					log.Warn("preview quality not applied", logging.Err(err))
				}
			}
		})
		if err != nil {
			log.Warn("config watch disabled", logging.Err(err))
		}
	})

	log.Info("camlink listening", "addr", cfg.Server.Addr(), "max_clients", cfg.Server.MaxClients)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Info("camlink server stopped")
	return nil
}
