package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
)

// Recorder 持久化被拦截记录
type Recorder interface {
	Record(ctx context.Context, a model.BlockedAttempt) error
}

// Renderer 把记录展示给操作员, 并可选写入日志库
type Renderer struct {
	logger   *zap.Logger
	recorder Recorder
}

func NewRenderer(logger *zap.Logger, recorder Recorder) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{logger: logger, recorder: recorder}
}

func (r *Renderer) HandleBlocked(ctx context.Context, a model.BlockedAttempt) {
	fields := []zap.Field{
		zap.Uint32("pid", a.PID),
		zap.String("process", a.ProcessImage),
		zap.String("file", a.FilePath),
		zap.Uint64("id", a.MessageID),
	}
	if a.Truncated {
		fields = append(fields, zap.Bool("possibly_truncated", true))
	}
	r.logger.Warn("🚫 Blocked open", fields...)

	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, a); err != nil {
		r.logger.Error("journal write failed", zap.Error(err))
	}
}
