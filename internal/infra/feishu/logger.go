package feishu

import (
	"context"
	"fmt"
	"log/slog"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
)

// sdkLogger routes the lark SDK's log output into slog
type sdkLogger struct {
	logger *slog.Logger
}

var _ larkcore.Logger = (*sdkLogger)(nil)

func newSDKLogger(logger *slog.Logger) *sdkLogger {
	return &sdkLogger{logger: logger.With("component", "lark-sdk")}
}

func (l *sdkLogger) Debug(ctx context.Context, args ...interface{}) {
	l.logger.DebugContext(ctx, fmt.Sprint(args...))
}

func (l *sdkLogger) Info(ctx context.Context, args ...interface{}) {
	l.logger.InfoContext(ctx, fmt.Sprint(args...))
}

func (l *sdkLogger) Warn(ctx context.Context, args ...interface{}) {
	l.logger.WarnContext(ctx, fmt.Sprint(args...))
}

func (l *sdkLogger) Error(ctx context.Context, args ...interface{}) {
	l.logger.ErrorContext(ctx, fmt.Sprint(args...))
}

// sdkLogLevel maps the slog level enabled on logger to the SDK's level
func sdkLogLevel(logger *slog.Logger) larkcore.LogLevel {
	ctx := context.Background()
	switch {
	case logger.Enabled(ctx, slog.LevelDebug):
		return larkcore.LogLevelDebug
	case logger.Enabled(ctx, slog.LevelInfo):
		return larkcore.LogLevelInfo
	case logger.Enabled(ctx, slog.LevelWarn):
		return larkcore.LogLevelWarn
	default:
		return larkcore.LogLevelError
	}
}
