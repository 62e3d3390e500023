// Package forgelog provides the structured logger every forgecore
// component is handed at construction time, adapted from
// eve.evalgo.org/tracing's zerolog wrapper: no package-global logger, one
// instance per component, correlation fields attached per call site.
package forgelog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the component/workspace fields forgecore
// attaches to every line.
type Logger struct {
	log zerolog.Logger
}

// New creates a JSON structured logger for production use.
func New(writer io.Writer, component string) *Logger {
	if writer == nil {
		writer = os.Stdout
	}
	log := zerolog.New(writer).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{log: log}
}

// NewConsole creates a human-readable console logger for local development.
func NewConsole(component string) *Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stdout}
	log := zerolog.New(cw).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{log: log}
}

// Nop returns a logger that discards everything; useful as a safe default
// when a caller does not wire one in.
func Nop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

// With returns a derived logger carrying an additional field, e.g.
// log.With("target_id", id) or log.With("worker_id", w.ID).
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{log: l.log.With().Interface(key, value).Logger()}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.emit(l.log.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.emit(l.log.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.emit(l.log.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, err error, fields map[string]interface{}) {
	ev := l.log.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	l.emit(ev, msg, fields)
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields map[string]interface{}) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
