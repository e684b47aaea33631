package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/port"
)

const (
	DefaultRequests = 5
	DefaultWorkers  = 1
	MaxWorkers      = 2

	// HandleTimeout 单条记录的处理时限, 与 Run 的取消无关
	HandleTimeout = 5 * time.Second
)

var ErrBadConfig = errors.New("invalid monitor configuration")

// Port 监控端使用的端口操作
type Port interface {
	GetMessage(m *port.Message) error
	Completions() <-chan *port.Message
	Reply(id uint64, st port.Status) error
	SendControl(ctx context.Context, msg *model.ControlMessage) (port.Status, error)
	Outstanding() int
}

// Handler 处理一条被拦截的记录 (展示, 记账)
type Handler interface {
	HandleBlocked(ctx context.Context, a model.BlockedAttempt)
}

type Config struct {
	Requests int
	Workers  int
}

// Client 固定 N 个挂起接收, M 个工作协程: 取完成项 -> 处理 -> 回复 -> 重新挂起
type Client struct {
	port    Port
	handler Handler
	logger  *zap.Logger

	slots   []*port.Message
	workers int

	cycles atomic.Uint64
}

func New(p Port, cfg Config, handler Handler, logger *zap.Logger) (*Client, error) {
	if cfg.Requests == 0 {
		cfg.Requests = DefaultRequests
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Requests < 0 || cfg.Requests > port.MaxPosted {
		return nil, fmt.Errorf("%w: requests must be in 1..%d, got %d", ErrBadConfig, port.MaxPosted, cfg.Requests)
	}
	if cfg.Workers < 0 || cfg.Workers > MaxWorkers {
		return nil, fmt.Errorf("%w: workers must be in 1..%d, got %d", ErrBadConfig, MaxWorkers, cfg.Workers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := make([]*port.Message, cfg.Requests)
	for i := range slots {
		slots[i] = &port.Message{}
	}
	return &Client{
		port:    p,
		handler: handler,
		logger:  logger,
		slots:   slots,
		workers: cfg.Workers,
	}, nil
}

// Run 挂起所有槽位并运行工作协程, 直到 ctx 取消或通道断开
func (c *Client) Run(ctx context.Context) error {
	for i, m := range c.slots {
		if err := c.port.GetMessage(m); err != nil {
			return fmt.Errorf("post receive %d: %w", i, err)
		}
	}
	c.logger.Debug("receives posted", zap.Int("requests", len(c.slots)), zap.Int("workers", c.workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error { return c.work(ctx, i) })
	}
	return g.Wait()
}

func (c *Client) work(ctx context.Context, id int) error {
	completions := c.port.Completions()
	for {
		// 阻塞之前先检查退出
		if ctx.Err() != nil {
			return nil
		}

		var m *port.Message
		var ok bool
		select {
		case m, ok = <-completions:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			c.logger.Debug("completion queue closed", zap.Int("worker", id))
			return port.ErrDisconnected
		}

		attempt := model.BlockedAttempt{
			MessageID:    m.Header.MessageID,
			PID:          m.Notification.ProcessID,
			ProcessImage: m.Notification.Image(),
			FilePath:     m.Notification.Path(),
			Truncated:    m.Notification.Saturated(),
			ReceivedAt:   time.Now(),
		}
		if c.handler != nil {
			hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), HandleTimeout)
			c.handler.HandleBlocked(hctx, attempt)
			hcancel()
		}

		if err := c.port.Reply(m.Header.MessageID, port.StatusSuccess); err != nil {
			return fmt.Errorf("reply %d: %w", m.Header.MessageID, err)
		}
		if err := c.port.GetMessage(m); err != nil {
			return fmt.Errorf("repost receive: %w", err)
		}
		c.cycles.Add(1)
	}
}

// Outstanding 已挂起未完成的接收数; 稳态下等于 Requests
func (c *Client) Outstanding() int {
	return c.port.Outstanding()
}

// Cycles 已完成的 接收-回复-重挂 次数
func (c *Client) Cycles() uint64 {
	return c.cycles.Load()
}

// Enable 开启对 dir 的保护; dir 须已规范化
func (c *Client) Enable(ctx context.Context, dir string) (port.Status, error) {
	msg, err := model.NewControlMessage(true, dir)
	if err != nil {
		return port.StatusInvalidParameter, err
	}
	return c.control(ctx, &msg)
}

// Disable 关闭保护
func (c *Client) Disable(ctx context.Context) (port.Status, error) {
	msg, _ := model.NewControlMessage(false, "")
	return c.control(ctx, &msg)
}

func (c *Client) control(ctx context.Context, msg *model.ControlMessage) (port.Status, error) {
	st, err := c.port.SendControl(ctx, msg)
	if err != nil {
		return st, err
	}
	return st, st.Err()
}
