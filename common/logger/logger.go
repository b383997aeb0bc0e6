package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rainbow-me/service-runtime/common/env"
)

const (
	StringJSONEncoderName = "string_json"
	MessageKey            = "message"
)

// Logger wraps a zap.Logger so helpers can be hung off it without leaking zap everywhere.
type Logger struct {
	*zap.Logger
}

var instance atomic.Pointer[Logger] //nolint:gochecknoglobals

// NewLogger wraps an existing zap logger.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{Logger: z}
}

// NoOp returns a logger that discards everything.
func NoOp() *Logger {
	return NewLogger(zap.NewNop())
}

// Instance returns the process-wide logger set with SetInstance, or a no-op logger.
func Instance() *Logger {
	if l := instance.Load(); l != nil {
		return l
	}
	return NoOp()
}

// SetInstance replaces the process-wide logger returned by Instance and FromContext.
func SetInstance(l *Logger) {
	instance.Store(l)
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Log writes msg at the given level.
func (l *Logger) Log(level Level, msg string, fields ...Field) {
	if ce := l.Check(zapcore.Level(level), msg); ce != nil {
		ce.Write(fields...)
	}
}

type stringJSONEncoder struct {
	zapcore.Encoder
}

// NewStringJSONEncoder returns an encoder that encodes the JSON log dict as a string
// so the log processing pipeline can correctly process logs with nested JSON.
func NewStringJSONEncoder(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
	return &stringJSONEncoder{zapcore.NewJSONEncoder(cfg)}, nil
}

// InitLogger builds the zap logger for the current ENVIRONMENT.
// Local runs get colored console output, everything else JSON for log ingestion.
func InitLogger(zapOpts ...zap.Option) (*Logger, error) {
	currentEnv, err := env.GetApplicationEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := zap.RegisterEncoder(StringJSONEncoderName, NewStringJSONEncoder); err != nil {
		return nil, fmt.Errorf("failed to register string JSON encoder: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    MessageKey,
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	var config zap.Config
	switch currentEnv {
	case env.EnvironmentLocal:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.MessageKey = MessageKey
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case env.EnvironmentProduction:
		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName
		config.Level.SetLevel(zap.InfoLevel)
	default:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName
	}

	options := append([]zap.Option{zap.AddStacktrace(zap.ErrorLevel)}, zapOpts...)

	z, err := config.Build(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return NewLogger(z), nil
}

// MustInitLogger is InitLogger that exits the process on failure.
func MustInitLogger(zapOpts ...zap.Option) *Logger {
	l, err := InitLogger(zapOpts...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	return l
}
