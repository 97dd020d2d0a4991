package logging

import "go.uber.org/zap"

// zapLogger adapts *zap.Logger to the Logger interface. This is the
// production default structured logger.
type zapLogger struct {
	z *zap.Logger
}

// NewZap wraps an existing *zap.Logger.
func NewZap(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// NewProductionZap builds a ready-to-use zap-backed Logger with sane
// production defaults (JSON encoding, info level).
func NewProductionZap() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(z), nil
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.z.Debug(msg, toZapFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...Field) {
	l.z.Info(msg, toZapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.z.Warn(msg, toZapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...Field) {
	l.z.Error(msg, toZapFields(fields)...)
}
