package port

import (
	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/policy"
)

// ControlChannel 将控制消息应用到策略存储
type ControlChannel struct {
	store  *policy.Store
	logger *zap.Logger
}

func NewControlChannel(store *policy.Store, logger *zap.Logger) *ControlChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlChannel{store: store, logger: logger}
}

// ReceiveControlMessage 开启时设置受保护路径 (不做规范化), 关闭时清空
func (c *ControlChannel) ReceiveControlMessage(msg *model.ControlMessage) Status {
	if !msg.Enabled() {
		c.store.Clear()
		c.logger.Info("🔓 protection disabled")
		return StatusSuccess
	}

	path, err := msg.DecodePath()
	if err != nil {
		c.logger.Warn("control message rejected", zap.Uint32("path_length", msg.PathLength), zap.Error(err))
		return StatusInvalidParameter
	}
	// 空前缀会匹配一切
	if path == "" {
		c.logger.Warn("control message rejected: empty path")
		return StatusInvalidParameter
	}

	c.store.SetProtectedPath(path, true)
	c.logger.Info("🔒 protection enabled", zap.String("path", path))
	return StatusSuccess
}
