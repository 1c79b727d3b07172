// Package zapadapter provides a pgx logger that writes to a go.uber.org/zap.Logger
// and tags every line with the operation and channel carried by the context
package zapadapter

import (
	"context"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	idKey key = iota
	channelKey
)

type Logger struct {
	logger *zap.Logger
	min    pgx.LogLevel
}

// NewContextWithID returns ctx carrying the id of the operation that issues queries
func NewContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey).(string)
	return id, ok
}

// NewContextWithChannel returns ctx carrying the chat channel the queries belong to
func NewContextWithChannel(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, channelKey, channelID)
}

func ChannelFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(channelKey).(string)
	return id, ok
}

// NewLogger returns pgx.Logger dropping entries less severe than min
func NewLogger(logger *zap.Logger, min pgx.LogLevel) *Logger {
	return &Logger{
		logger: logger.WithOptions(zap.AddCallerSkip(1)).Named("pgx"),
		min:    min,
	}
}

// pgx levels grow with verbosity: LogLevelError < LogLevelWarn < ... < LogLevelTrace
func (pl *Logger) enabled(level pgx.LogLevel) bool {
	return level != pgx.LogLevelNone && level <= pl.min
}

func (pl *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	if !pl.enabled(level) {
		return
	}

	fields := make([]zapcore.Field, 0, len(data)+2)
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String("operation_id", id))
	}
	if ch, ok := ChannelFromContext(ctx); ok {
		fields = append(fields, zap.String("channel_id", ch))
	}
	for k, v := range data {
		fields = append(fields, zap.Reflect(k, v))
	}

	switch level {
	case pgx.LogLevelTrace, pgx.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pgx.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pgx.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pgx.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	}
}
