// Package report turns leak reports into durable records and delivers them
// to sinks.
//
// A [leakcheck.Report] holds the leaked controllers themselves, which must
// not outlive the reporter callback. [FromReport] copies what is worth
// keeping into a [Record]; sinks only ever see records.
//
//	sink := report.Fanout(
//	    report.NewLogSink(logger),
//	    report.NewJSONLines(file),
//	)
//	leakcheck.SetPossiblyLeakedFunc(report.Reporter("myapp", sink))
package report

import (
	"fmt"
	"time"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
)

// Record is the persistent form of one leak report.
type Record struct {
	ID    string       `json:"id"`
	App   string       `json:"app,omitempty"`
	At    time.Time    `json:"at"`
	Leaks []LeakRecord `json:"leaks"`
}

// LeakRecord describes one leaked controller.
type LeakRecord struct {
	Type          string        `json:"type"`
	Description   string        `json:"description,omitempty"`
	DisappearedAt time.Time     `json:"disappeared_at"`
	Age           time.Duration `json:"age_ns"`
	Stack         string        `json:"stack,omitempty"`
}

// Types returns the controller type names in report order.
func (r Record) Types() []string {
	out := make([]string, len(r.Leaks))
	for i, l := range r.Leaks {
		out[i] = l.Type
	}
	return out
}

// FromReport copies r into a Record. Controllers implementing fmt.Stringer
// contribute their description.
func FromReport(app string, r *leakcheck.Report) Record {
	rec := Record{App: app}
	if r == nil {
		return rec
	}
	rec.ID = r.ID.String()
	rec.At = r.At
	rec.Leaks = make([]LeakRecord, len(r.Leaks))
	for i, l := range r.Leaks {
		lr := LeakRecord{
			Type:          l.Type,
			DisappearedAt: l.DisappearedAt,
			Age:           l.Age,
			Stack:         l.Stack,
		}
		if s, ok := l.Controller.(fmt.Stringer); ok {
			lr.Description = s.String()
		}
		rec.Leaks[i] = lr
	}
	return rec
}
