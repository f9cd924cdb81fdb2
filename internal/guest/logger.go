package guest

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

// Sink receives one encoded log line at an api/wasm log level. The message
// slice is only valid for the duration of the call.
type Sink func(level uint32, msg []byte)

// hostCore is a zapcore.Core that hands every entry to a Sink.
type hostCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink Sink
}

// NewLogger returns a logger whose entries are written to sink as
// "message<TAB>{fields}" lines. Timestamps and levels are left to the host.
func NewLogger(sink Sink, level zapcore.LevelEnabler) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		NameKey:          "logger",
		SkipLineEnding:   true,
		ConsoleSeparator: "\t",
	})
	return zap.New(&hostCore{LevelEnabler: level, enc: enc, sink: sink})
}

func (c *hostCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &hostCore{LevelEnabler: c.LevelEnabler, enc: c.enc.Clone(), sink: c.sink}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (c *hostCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *hostCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.sink(hostLevel(ent.Level), buf.Bytes())
	buf.Free()
	return nil
}

func (c *hostCore) Sync() error {
	return nil
}

// ParseLevel returns the level named by s, falling back to info for an empty
// or unknown name.
func ParseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func hostLevel(l zapcore.Level) uint32 {
	switch {
	case l <= zapcore.DebugLevel:
		return wasmapi.LogDebug
	case l == zapcore.InfoLevel:
		return wasmapi.LogInfo
	case l == zapcore.WarnLevel:
		return wasmapi.LogWarn
	default:
		return wasmapi.LogError
	}
}
