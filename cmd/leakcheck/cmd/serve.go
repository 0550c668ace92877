package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-drift/leakcheck/internal/config"
	"github.com/go-drift/leakcheck/internal/server"
	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/report"
)

func init() {
	RegisterCommand(&Command{
		Name:  "serve",
		Short: "Serve the debug API",
		Long: `Serve leak history and detector counters over HTTP.

Routes:
  GET /health        liveness
  GET /stats         detector counters and leak counts per type
  GET /leaks/        stored reports (app, type, since, limit)
  GET /leaks/types   leak counts per controller type
  GET /leaks/{id}    one report

The process-wide detector is enabled and its reports go to the configured
sinks. When leakcheck.yaml exists, detector settings are reloaded whenever
it changes. --demo runs the sample host on an interval so that the API has
something to show.

Flags:
  --addr ADDR         Listen address (default: server.addr)
  --demo DURATION     Run the sample host every DURATION`,
		Usage: "leakcheck serve [--addr ADDR] [--demo DURATION]",
		Run:   runServe,
	})
}

type serveOptions struct {
	addr string
	demo time.Duration
}

func parseServeFlags(args []string) (serveOptions, error) {
	var opts serveOptions
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.addr, "addr", "", "listen address")
	fs.DurationVar(&opts.demo, "demo", 0, "sample host interval")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.demo < 0 {
		return opts, fmt.Errorf("--demo must not be negative")
	}
	return opts, nil
}

func runServe(args []string) error {
	opts, err := parseServeFlags(args)
	if err != nil {
		return err
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openSinks(); err != nil {
		return err
	}
	if opts.addr == "" {
		opts.addr = e.cfg.Server.Addr
	}

	d := leakcheck.Default()
	d.SetOptions(e.cfg.DetectorOptions())
	d.SetPossiblyLeakedFunc(report.Reporter(e.cfg.AppName, e.sink))
	d.Enable()
	defer d.Disable()

	var history server.History
	if e.store != nil {
		history = e.store
	}
	srv := server.New(opts.addr, server.NewHandler(history, d, e.logger), e.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.ListenAndRun(ctx) })

	if e.cfg.Path != "" {
		loader := config.NewLoader(e.cfg.Path)
		if _, err := loader.Load(); err != nil {
			return err
		}
		loader.OnChange(func(cfg *config.Config) {
			d.SetOptions(cfg.DetectorOptions())
			e.logger.Info("detector settings reloaded",
				slog.Duration("grace_period", cfg.Detector.GracePeriod),
				slog.Duration("batch_window", cfg.Detector.BatchWindow),
				slog.Int("max_parent_depth", cfg.Detector.MaxParentDepth),
			)
		})
		if err := loader.Watch(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					loader.Wait()
					return nil
				case err := <-loader.Errors():
					e.logger.Warn("config reload failed", slog.Any("error", err))
				}
			}
		})
	}

	if opts.demo > 0 {
		g.Go(func() error {
			demoLoop(ctx, d, opts.demo)
			return nil
		})
	}

	return g.Wait()
}

// demoLoop runs the sample host every interval on the detector's hub. Each
// round keeps one popped route alive until the next round.
func demoLoop(ctx context.Context, d *leakcheck.Detector, interval time.Duration) {
	hub := d.Hub()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var retained []any
	for {
		retained = hostScenario(hub, d, 1)
		runtime.GC()
		select {
		case <-ctx.Done():
			runtime.KeepAlive(retained)
			return
		case <-ticker.C:
		}
	}
}
