// Package eventlog implements the cluster-event persistence extension
// point: the core never persists state itself; the events it reports go
// through a Sink, so an operator can plug in a durable log without the
// core depending on any particular store. The cluster appends a
// "cluster.start" event when it starts; monitor ticks and synchronizer
// results are not sent to the Sink.
package eventlog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one record a Sink persists. Kind is a short, stable tag
// (e.g. "cluster.start"); Detail
// is a human-readable summary; Fields carries structured context for
// sinks that can store it (a properties-backed sink flattens it, a
// future jdbc-backed sink would column it).
type Event struct {
	Time   time.Time
	Kind   string
	Detail string
	Fields map[string]string
}

// Sink persists Events. Append must never block its caller for long and
// must never panic; a Sink that cannot keep up should drop events rather
// than back-pressure the caller — logging is best-effort and never in
// the critical path.
type Sink interface {
	Append(e Event)
	Close() error
}

// NopSink discards every event. It is the default when
// appcluster.log.type is unset.
type NopSink struct{}

func (NopSink) Append(Event)  {}
func (NopSink) Close() error { return nil }

// ZapSink adapts a Sink onto a *zap.SugaredLogger, for operators who want
// cluster events folded into their existing structured-logging pipeline
// rather than a separate file.
type ZapSink struct {
	log *zap.SugaredLogger
}

// NewZapSink builds a ZapSink over log.
func NewZapSink(log *zap.SugaredLogger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) Append(e Event) {
	args := make([]interface{}, 0, 2+2*len(e.Fields))
	args = append(args, "detail", e.Detail)
	for k, v := range e.Fields {
		args = append(args, k, v)
	}
	s.log.Infow(e.Kind, args...)
}

func (s *ZapSink) Close() error { return nil }

// PropertiesSink implements the `appcluster.log.type=properties` option:
// a newline-delimited, `key=value`-flattened append-only file,
// the simplest durable sink that needs no schema. Named for the format
// it writes, not for using the magiconair/properties library to write it
// (that library is a reader; writing is a few lines of fmt.Fprintf).
type PropertiesSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewPropertiesSink opens (creating if necessary) path for appending.
func NewPropertiesSink(path string) (*PropertiesSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &PropertiesSink{file: f}, nil
}

func (s *PropertiesSink) Append(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.file, "time=%s\nkind=%s\ndetail=%s\n", e.Time.Format(time.RFC3339Nano), e.Kind, e.Detail)
	for k, v := range e.Fields {
		fmt.Fprintf(s.file, "%s=%s\n", k, v)
	}
	fmt.Fprintln(s.file)
}

func (s *PropertiesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
