package utils

// logger.go - структурированное логирование на базе zap.
//
// Формат и уровень настраиваются через LogConfig; глобальный логгер
// доступен через GetGlobalLogger()/L() для мест, куда *Logger не
// прокинут явно (например пакетные init-функции).

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig управляет уровнем, форматом и назначением вывода логгера.
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // включает zap.Development (stacktrace на Warn+)
}

// Logger оборачивает *zap.Logger парой готового sugared-логгера и
// добавляет доменные хелперы (WithExchange/WithSymbol/...).
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug", "DEBUG":
		return zapcore.DebugLevel
	case "info", "INFO":
		return zapcore.InfoLevel
	case "warn", "WARN", "warning", "WARNING":
		return zapcore.WarnLevel
	case "error", "ERROR":
		return zapcore.ErrorLevel
	case "fatal", "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger builds a Logger per cfg. It never returns nil and never
// fails construction: an invalid Output falls back to stderr.
func InitLogger(cfg LogConfig) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.MessageKey = "message"

	var encoder zapcore.Encoder
	if cfg.Format == "text" {
		textCfg := encoderCfg
		textCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(textCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			sink = zapcore.AddSync(os.Stderr)
		} else {
			sink = zapcore.AddSync(f)
		}
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	zl := zap.New(core, opts...)

	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// With returns a child Logger carrying the given structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent tags every subsequent log line with the owning component.
func (l *Logger) WithComponent(name string) *Logger { return l.With(Component(name)) }

// WithExchange tags every subsequent log line with the exchange name.
func (l *Logger) WithExchange(name string) *Logger { return l.With(Exchange(name)) }

// WithSymbol tags every subsequent log line with the trading symbol.
func (l *Logger) WithSymbol(symbol string) *Logger { return l.With(Symbol(symbol)) }

// WithPairID tags every subsequent log line with the pair ID.
func (l *Logger) WithPairID(id int) *Logger { return l.With(PairID(id)) }

// Sugar returns the underlying sugared logger for printf-style calls.
func (l *Logger) Sugar() *zap.SugaredLogger { return l.sugar }

// Domain field constructors, mirroring the labels recorded across
// manager/worker/risk/store logging.
func Exchange(name string) zap.Field   { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field   { return zap.String("symbol", symbol) }
func PairID(id int) zap.Field          { return zap.Int("pair_id", id) }
func OrderID(id string) zap.Field      { return zap.String("order_id", id) }
func Price(v float64) zap.Field        { return zap.Float64("price", v) }
func Volume(v float64) zap.Field       { return zap.Float64("volume", v) }
func Spread(v float64) zap.Field       { return zap.Float64("spread", v) }
func PNL(v float64) zap.Field          { return zap.Float64("pnl", v) }
func Side(side string) zap.Field       { return zap.String("side", side) }
func State(state string) zap.Field     { return zap.String("state", state) }
func Latency(ms float64) zap.Field     { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field    { return zap.String("request_id", id) }
func UserID(id int) zap.Field          { return zap.Int("user_id", id) }
func Component(name string) zap.Field  { return zap.String("component", name) }

// Re-exported zap field constructors so callers only need one import.
func String(key, value string) zap.Field     { return zap.String(key, value) }
func Int(key string, value int) zap.Field    { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field  { return zap.Bool(key, value) }
func Err(err error) zap.Field                 { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitGlobalLogger builds a Logger per cfg and installs it as the global
// default.
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger installs logger as the process-wide default.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the installed global logger, lazily building a
// default one (info/json/stderr) if none was installed yet.
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L is shorthand for GetGlobalLogger.
func L() *Logger { return GetGlobalLogger() }

// Package-level convenience wrappers against the global logger.
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// fieldsToInterface flattens zap fields into alternating key/value pairs,
// in field order, for callers bridging into a sugared-style variadic API.
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		for k, v := range enc.Fields {
			out = append(out, k, v)
		}
	}
	return out
}
