package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/lifecycle"
	"github.com/go-drift/leakcheck/pkg/navigation"
	"github.com/go-drift/leakcheck/pkg/report"
)

func init() {
	RegisterCommand(&Command{
		Name:  "demo",
		Short: "Run a sample host and report its leaks",
		Long: `Run a small navigation host under the leak detector.

The host pushes and pops detail routes, keeping a reference to some of the
popped ones, and switches tabs inside a tab container. Retained routes are
reported once the grace period has passed; released routes and hidden tabs
are not. Reports go to the sinks configured in leakcheck.yaml.`,
		Usage: "leakcheck demo [--leaks N] [--timeout DURATION]",
		Run:   runDemo,
	})
}

type demoOptions struct {
	leaks   int
	timeout time.Duration
}

func parseDemoFlags(args []string) (demoOptions, error) {
	opts := demoOptions{}
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.leaks, "leaks", 2, "number of popped routes to keep alive")
	fs.DurationVar(&opts.timeout, "timeout", 0, "give up after this long (default: 3x the grace period)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.leaks < 0 {
		return opts, fmt.Errorf("--leaks must not be negative")
	}
	return opts, nil
}

func runDemo(args []string) error {
	opts, err := parseDemoFlags(args)
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

	detOpts := e.cfg.DetectorOptions()
	if opts.timeout <= 0 {
		opts.timeout = 3*detOpts.GracePeriod + time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	stats, err := runDemoHost(ctx, e, detOpts, opts.leaks)
	renderStats(stdout, e.cfg.AppName, stats)
	return err
}

// runDemoHost drives the sample host on a single UI loop. Detector checks
// are dispatched onto the same loop, the way a UI framework would hand them
// to its main thread.
func runDemoHost(ctx context.Context, e *env, opts leakcheck.Options, leaks int) (leakcheck.Stats, error) {
	ui := make(chan func(), 64)
	hub := lifecycle.NewHub()
	opts.Hub = hub
	opts.Logger = e.logger
	opts.Scheduler = leakcheck.NewTimerScheduler(func(cb func()) { ui <- cb })

	d := leakcheck.New(opts)
	defer d.Close()
	reporter := report.Reporter(e.cfg.AppName, e.sink)
	d.SetPossiblyLeakedFunc(reporter)
	d.Enable()

	retained := hostScenario(hub, d, leaks)
	runtime.GC()
	e.logger.Info("demo host running",
		slog.Int("retained", leaks),
		slog.Duration("grace_period", opts.GracePeriod),
	)

	gc := time.NewTicker(100 * time.Millisecond)
	defer gc.Stop()
	for {
		select {
		case cb := <-ui:
			cb()
			if s := d.Stats(); s.Pending == 0 {
				runtime.KeepAlive(retained)
				return s, nil
			}
		case <-gc.C:
			runtime.GC()
		case <-ctx.Done():
			runtime.KeepAlive(retained)
			return d.Stats(), fmt.Errorf("demo did not settle: %w", ctx.Err())
		}
	}
}

// hostScenario builds a navigator and a tab container on hub. It pushes
// leaks+2 detail routes and pops each one, returning the popped routes it
// keeps alive together with the still visible host objects.
func hostScenario(hub *lifecycle.Hub, registry navigation.ParentRegistry, leaks int) []any {
	nav := navigation.NewNavigator(navigation.Navigator{
		InitialRoute: "/",
		OnGenerateRoute: func(s navigation.RouteSettings) navigation.Route {
			return navigation.NewPageRoute(s)
		},
		Hub: hub,
	})

	tabs := &navigation.TabContainer{
		Tabs: []any{
			navigation.NewPageRoute(navigation.RouteSettings{Name: "home"}),
			navigation.NewPageRoute(navigation.RouteSettings{Name: "search"}),
		},
		Hub:      hub,
		Registry: registry,
	}
	tabs.Show()
	// home is hidden but stays alive inside the visible container.
	tabs.Select(1)

	retained := []any{nav, tabs}
	for i := range leaks + 2 {
		nav.PushNamed(fmt.Sprintf("/details/%d", i), i)
		if i < leaks {
			retained = append(retained, nav.Top())
		}
		nav.Pop(nil)
	}
	return retained
}
