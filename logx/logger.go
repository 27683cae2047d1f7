// Package logx is the node's structured event logger. Every event is
// written as one JSON line to logs/node_<i>.log:
// {"timestamp":...,"node_id":...,"event_type":...,"data":{...}}. It
// also tees a human-readable line to the console at the configured
// --log-level, logging to both a sink and the terminal.
package logx

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nilchain/consensim/events"
)

// Logger wraps a zap.Logger configured to emit log-line shape
// and subscribes it to every event type so callers never have to
// remember to log — emitting the domain event is enough.
type Logger struct {
	nodeID int
	zap    *zap.Logger
	file   *os.File
}

// Level mirrors the four levels names on --log-level.
type Level string

const (
	Debug Level = "DEBUG"
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New opens logs/node_<id>.log under dir (creating dir if needed), wires
// a JSON core for the file (always at Debug, since every required event
// type must reach the file regardless of console verbosity) teed with a
// human-readable console core at consoleLevel, and subscribes the
// resulting logger to emitter for every event type in events.Type.
func New(dir string, nodeID int, consoleLevel Level, emitter *events.Emitter) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logx: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("node_%d.log", nodeID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logx: open %s: %w", path, err)
	}

	fileEncCfg := zapcore.EncoderConfig{
		TimeKey:    "timestamp",
		LevelKey:   "",
		MessageKey: "",
		EncodeTime: zapcore.ISO8601TimeEncoder,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	consoleEncCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncCfg), zapcore.AddSync(os.Stdout), consoleLevel.zapLevel())

	core := zapcore.NewTee(fileCore, consoleCore)
	l := &Logger{nodeID: nodeID, zap: zap.New(core), file: f}

	for _, t := range []events.Type{
		events.Startup, events.PeerConnected, events.PeerDisconnected,
		events.BlockCreated, events.BlockReceived, events.BlockAccepted,
		events.BlockRejected, events.BlockOrphaned, events.TipChanged,
		events.Finalized, events.Reorg, events.PartitionStart,
		events.PartitionHeal, events.SafetyViolation, events.Shutdown,
	} {
		emitter.Subscribe(t, l.logEvent)
	}
	return l, nil
}

func (l *Logger) logEvent(ev events.Event) {
	level := zapcore.InfoLevel
	switch ev.Type {
	case events.SafetyViolation:
		level = zapcore.ErrorLevel
	case events.BlockRejected:
		level = zapcore.WarnLevel
	case events.BlockOrphaned:
		level = zapcore.DebugLevel
	}
	l.zap.Check(level, "").Write(
		zap.Int("node_id", l.nodeID),
		zap.String("event_type", string(ev.Type)),
		zap.Any("data", ev.Data),
	)
}

// Sync flushes buffered log entries. Call before process exit, and
// always before exiting on a safety violation: log at ERROR, flush
// logs, then exit with a non-zero code.
func (l *Logger) Sync() error {
	_ = l.zap.Sync()
	return l.file.Close()
}
