// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLevel = "info"

// Sink receives formatted log entries, e.g. for display in the terminal
// view.
type Sink interface {
	Log(level string, message string)
}

// Options selects the log outputs. Entries go to File when set, to Sink
// when set, and to stderr when Console is set.
type Options struct {
	Level   string
	File    string
	Console bool
	Sink    Sink
}

// New builds a logger for opts. With no output selected it returns a no-op
// logger.
func New(opts Options) (*zap.Logger, error) {
	level := opts.Level
	if level == "" {
		level = defaultLevel
	}
	minLevel, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cores []zapcore.Core
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), minLevel))
	}
	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), minLevel))
	}
	if opts.Sink != nil {
		cores = append(cores, &sinkCore{sink: opts.Sink, minLevel: minLevel})
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

type sinkCore struct {
	sink     Sink
	minLevel zapcore.Level
	fields   []zapcore.Field
}

func (c *sinkCore) Enabled(level zapcore.Level) bool {
	return level >= c.minLevel
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	base := make([]zapcore.Field, len(c.fields), len(c.fields)+len(fields))
	copy(base, c.fields)
	base = append(base, fields...)
	return &sinkCore{
		sink:     c.sink,
		minLevel: c.minLevel,
		fields:   base,
	}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(enc)
	}
	for _, field := range fields {
		field.AddTo(enc)
	}

	payload := strings.TrimSpace(ent.Message)
	if payload == "" {
		payload = ent.Level.String()
	}
	if ent.LoggerName != "" {
		payload = ent.LoggerName + ": " + payload
	}
	if len(enc.Fields) > 0 {
		payload += " " + formatFields(enc.Fields)
	}

	c.sink.Log(ent.Level.String(), payload)
	return nil
}

func (c *sinkCore) Sync() error { return nil }

func formatFields(values map[string]interface{}) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[")
	for i, key := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(key)
		b.WriteString("=")
		if s, ok := values[key].(string); ok {
			b.WriteString(s)
		} else {
			b.WriteString(fmt.Sprint(values[key]))
		}
	}
	b.WriteString("]")
	return b.String()
}
