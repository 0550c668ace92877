package report

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/leakcheck"
)

// Sink receives leak records.
type Sink interface {
	Write(rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec Record) error

// Write calls f(rec).
func (f SinkFunc) Write(rec Record) error { return f(rec) }

// Reporter returns a function suitable for leakcheck.SetPossiblyLeakedFunc.
// Each report is converted with FromReport and written to sink. Write
// errors go to the errors handler; they never reach the detector.
func Reporter(app string, sink Sink) func(*leakcheck.Report) {
	return func(r *leakcheck.Report) {
		rec := FromReport(app, r)
		if err := sink.Write(rec); err != nil {
			errors.Report(&errors.LeakError{
				Op:   "report.Write",
				Kind: errors.KindReport,
				Err:  err,
			})
		}
	}
}

// LogSink writes one warning per leaked controller.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(rec Record) error {
	for i, l := range rec.Leaks {
		attrs := []any{
			slog.String("report", rec.ID),
			slog.Int("index", i),
			slog.String("type", l.Type),
			slog.Duration("age", l.Age),
			slog.Time("disappeared_at", l.DisappearedAt),
		}
		if rec.App != "" {
			attrs = append(attrs, slog.String("app", rec.App))
		}
		if l.Description != "" {
			attrs = append(attrs, slog.String("controller", l.Description))
		}
		if l.Stack != "" {
			attrs = append(attrs, slog.String("stack", l.Stack))
		}
		s.logger.Warn("possible controller leak", attrs...)
	}
	return nil
}

// JSONLines writes each record as one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (s *JSONLines) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return nil
}

// ReadJSONLines decodes every record in r.
func ReadJSONLines(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if stderrors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

type fanout []Sink

// Fanout writes every record to each sink in order. All sinks are tried;
// their errors are joined.
func Fanout(sinks ...Sink) Sink {
	var out fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f fanout) Write(rec Record) error {
	var errs []error
	for _, s := range f {
		if err := s.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
