package main

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"go2tv.app/screencastd/internal/apis"
	"go2tv.app/screencastd/internal/core"
	"go2tv.app/screencastd/internal/dbusapi"
	"go2tv.app/screencastd/internal/outputs"
	"go2tv.app/screencastd/internal/pipewire"
	"go2tv.app/screencastd/internal/platform/config"
	"go2tv.app/screencastd/internal/platform/logger"
	"go2tv.app/screencastd/internal/platform/metrics"
	"go2tv.app/screencastd/internal/render"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	w, closeLog := logger.Output(cfg.DebugFile)
	defer closeLog()
	log := logger.New(logger.Level(cfg.LogLevel, cfg.Debug), cfg.LogFormat, w)

	if err := run(cfg, log); err != nil {
		log.Error("screencastd failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outs, err := outputs.Load(cfg.OutputsFile)
	if err != nil {
		return err
	}
	registry := outputs.NewRegistry(outs)

	met := metrics.New()
	transport := pipewire.NewLoopback(pipewire.LoopbackOptions{}, log)
	defer transport.Close()

	pointer := render.NewPointer()
	svc := core.NewService(cfg.Core, core.Deps{
		Outputs:   registry,
		Transport: transport,
		Cursor:    pointer,
		Logger:    log,
		Metrics:   met,
	})
	defer svc.Shutdown()

	driver := render.NewDriver(svc, pointer, log)
	driver.Sync(outs)
	defer driver.Stop()
	if cfg.Animate {
		go driver.AnimatePointer(ctx, desktopBounds(outs))
	}

	err = outputs.Watch(ctx, cfg.OutputsFile, log, func(next []core.Output) {
		added, removed := registry.Replace(next)
		driver.Sync(next)
		log.Info("outputs changed", "added", added, "removed", removed)
	})
	if err != nil {
		log.Warn("output profile not watched", "path", cfg.OutputsFile, "error", err)
	}

	conn, err := apis.Dial(cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	srv := dbusapi.NewServer(conn, svc, log)
	if err := srv.Claim(conn); err != nil {
		return err
	}
	if err := srv.WatchOwners(ctx, conn); err != nil {
		return err
	}

	var httpSrv *http.Server
	if cfg.MetricsAddr != "" {
		httpSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: router(met, svc, log)}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", "error", err)
				stop()
			}
		}()
	}

	log.Info("screencastd started",
		"bus", cfg.Bus,
		"outputs", len(outs),
		"metrics_addr", cfg.MetricsAddr,
		"buffer_count", cfg.Core.BufferCount,
		"max_fps", cfg.Core.MaxFPS,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping sessions")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown error", "error", err)
		}
	}
	// Sessions end while the bus is still up so clients see Closed.
	driver.Stop()
	if err := svc.Shutdown(); err != nil {
		log.Warn("session teardown", "error", err)
	}
	srv.Shutdown()
	return nil
}

func router(met *metrics.Metrics, svc *core.Service, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Handle("/metrics", met.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/outputs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for _, name := range svc.ListOutputs() {
			_, _ = w.Write([]byte(name + "\n"))
		}
	})
	return r
}

// desktopBounds is the union of every output's logical rectangle.
func desktopBounds(outs []core.Output) image.Rectangle {
	var r image.Rectangle
	for _, o := range outs {
		scale := o.Scale
		if scale <= 0 {
			scale = 1
		}
		size := image.Pt(int(float64(o.Mode.Width)/scale), int(float64(o.Mode.Height)/scale))
		r = r.Union(image.Rectangle{Min: o.Position, Max: o.Position.Add(size)})
	}
	return r
}
