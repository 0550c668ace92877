package cmd

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-drift/leakcheck/internal/config"
	"github.com/go-drift/leakcheck/internal/logger"
	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/report"
	"github.com/go-drift/leakcheck/pkg/report/store"
)

// env is the state shared by commands: resolved configuration, logger and
// the configured report sinks.
type env struct {
	cfg    *config.Resolved
	logger *slog.Logger
	sink   report.Sink
	store  *store.Store
	closer []func() error
}

// loadEnv resolves the project configuration and builds the logger. Sinks
// are opened separately by openSinks.
func loadEnv() (*env, error) {
	cfg, err := config.Resolve(projectDir)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LoggerConfig(logger.LoadConfig()))
	errors.SetHandler(&errors.LogHandler{Logger: log})
	if cfg.Path != "" {
		log.Debug("loaded config", slog.String("path", cfg.Path))
	}
	return &env{cfg: cfg, logger: log}, nil
}

// resolvePath makes path relative to the project directory.
func (e *env) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.cfg.Root, path)
}

// openStore opens the report history, preferring override over the
// configured path.
func (e *env) openStore(override string) (*store.Store, error) {
	path := override
	if path == "" {
		path = e.cfg.Report.Store
	}
	if path == "" {
		return nil, fmt.Errorf("no report store configured: set report.store in leakcheck.yaml or pass --db")
	}
	s, err := store.Open(e.resolvePath(path))
	if err != nil {
		return nil, err
	}
	e.store = s
	e.closer = append(e.closer, s.Close)
	return s, nil
}

// openSinks builds the fan-out sink from the report section.
func (e *env) openSinks() error {
	var sinks []report.Sink
	if e.cfg.Report.Log {
		sinks = append(sinks, report.NewLogSink(e.logger))
	}
	if path := e.cfg.Report.JSONL; path != "" {
		f, err := os.OpenFile(e.resolvePath(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		e.closer = append(e.closer, f.Close)
		sinks = append(sinks, report.NewJSONLines(f))
	}
	if e.cfg.Report.Store != "" {
		s, err := e.openStore("")
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	e.sink = report.Fanout(sinks...)
	return nil
}

func (e *env) Close() error {
	var errs []error
	for i := len(e.closer) - 1; i >= 0; i-- {
		if err := e.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closer = nil
	return stderrors.Join(errs...)
}
