package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	loggerName = "wkmailmove"

	// log file rotation: 5 MiB per file, 5 backups
	maxSizeMB  = 5
	maxBackups = 5
)

type Config struct {
	LogLevel string
	DevMode  bool
	// Path of the log file; empty logs to the console only.
	Path string
	// Truncate empties the log file before the first write.
	Truncate bool
}

type Logger interface {
	InitLogger()
	Sync() error
	With(fields ...zap.Field) Logger
	Enabled(level zapcore.Level) bool

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})

	DebugMsg(msg string, fields ...zap.Field)
	InfoMsg(msg string, fields ...zap.Field)
	WarnMsg(msg string, fields ...zap.Field)
	ErrorMsg(msg string, fields ...zap.Field)
}

type AppLogger struct {
	level  string
	cfg    *Config
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

func NewAppLogger(cfg *Config) *AppLogger {
	return &AppLogger{cfg: cfg, level: cfg.LogLevel}
}

// NewFromZap wraps an already built zap logger, mostly for tests.
func NewFromZap(l *zap.Logger) *AppLogger {
	return &AppLogger{cfg: &Config{}, logger: l, sugar: l.Sugar()}
}

// ParseLevel accepts the Python-style level names
// (DEBUG, INFO, WARNING, ERROR, CRITICAL) as well as zap's own.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.Trim(level, `"' `)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "critical", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *AppLogger) encoderConfig() zapcore.EncoderConfig {
	var encCfg zapcore.EncoderConfig
	if l.cfg.DevMode {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.TimeKey = "time"
	encCfg.NameKey = "logger"
	encCfg.ConsoleSeparator = " - "
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05,000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeName = zapcore.FullNameEncoder
	return encCfg
}

func (l *AppLogger) InitLogger() {
	level := zap.NewAtomicLevelAt(ParseLevel(l.level))
	encoder := zapcore.NewConsoleEncoder(l.encoderConfig())

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if l.cfg.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   l.cfg.Path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
		if l.cfg.Truncate {
			truncate(l.cfg.Path)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	options := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if l.cfg.DevMode {
		options = append(options, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	l.logger = zap.New(zapcore.NewTee(cores...), options...).Named(loggerName)
	l.sugar = l.logger.Sugar()
}

func truncate(path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	_ = f.Close()
}

func (l *AppLogger) Sync() error {
	return l.logger.Sync()
}

func (l *AppLogger) With(fields ...zap.Field) Logger {
	child := l.logger.With(fields...)
	return &AppLogger{level: l.level, cfg: l.cfg, logger: child, sugar: child.Sugar()}
}

func (l *AppLogger) Enabled(level zapcore.Level) bool {
	return l.logger.Core().Enabled(level)
}

func (l *AppLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *AppLogger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}
func (l *AppLogger) Info(args ...interface{}) { l.sugar.Info(args...) }
func (l *AppLogger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}
func (l *AppLogger) Warn(args ...interface{}) { l.sugar.Warn(args...) }
func (l *AppLogger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}
func (l *AppLogger) Error(args ...interface{}) { l.sugar.Error(args...) }
func (l *AppLogger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

func (l *AppLogger) DebugMsg(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }
func (l *AppLogger) InfoMsg(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *AppLogger) WarnMsg(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }
func (l *AppLogger) ErrorMsg(msg string, fields ...zap.Field) { l.logger.Error(msg, fields...) }
