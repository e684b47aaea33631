package port

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
)

// MaxPosted 同时挂起的接收上限
const MaxPosted = 64

// Message 一个接收槽位; 完成后携带消息头和通知内容
type Message struct {
	Header       MessageHeader
	Notification model.Notification
}

// ClientPort 监控端连接
type ClientPort struct {
	conn   net.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	posted      chan *Message
	completions chan *Message
	outstanding atomic.Int64

	controlMu    sync.Mutex
	controlID    atomic.Uint64
	controlReply chan ReplyHeader

	done      chan struct{}
	closeOnce sync.Once
}

// Connect 连接 agent 并完成握手
func Connect(ctx context.Context, path string, logger *zap.Logger) (*ClientPort, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	typ, payload, err := readFrame(conn)
	stopped := stop()
	if err != nil || !stopped {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read connect ack: %w", err)
	}
	if typ != MsgConnectAck {
		conn.Close()
		return nil, fmt.Errorf("%w: type %d during handshake", ErrUnexpectedFrame, typ)
	}
	var ack connectAck
	if err := model.DecodeRecord(payload, &ack); err != nil {
		conn.Close()
		return nil, err
	}
	if st := Status(ack.Status); st != StatusSuccess {
		conn.Close()
		if st == StatusConnectionRefused {
			return nil, ErrConnectionRefused
		}
		return nil, st.Err()
	}

	c := &ClientPort{
		conn:         conn,
		logger:       logger,
		posted:       make(chan *Message, MaxPosted),
		completions:  make(chan *Message, MaxPosted),
		controlReply: make(chan ReplyHeader, 1),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// GetMessage 挂起一个异步接收; 完成的槽位从 Completions 取出
func (c *ClientPort) GetMessage(m *Message) error {
	select {
	case <-c.done:
		return ErrDisconnected
	default:
	}
	c.outstanding.Add(1)
	select {
	case c.posted <- m:
		return nil
	default:
		c.outstanding.Add(-1)
		return ErrTooManyPosted
	}
}

// Completions 每个完成的槽位恰好投递一次; 断开后关闭
func (c *ClientPort) Completions() <-chan *Message {
	return c.completions
}

// Outstanding 已挂起但尚未完成的接收数
func (c *ClientPort) Outstanding() int {
	return int(c.outstanding.Load())
}

// Reply 回复一条通知, id 必须与请求一致
func (c *ClientPort) Reply(id uint64, st Status) error {
	if err := c.write(MsgReply, &ReplyHeader{Status: int32(st), MessageID: id}); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// SendControl 同步发送控制消息并返回 agent 的状态
func (c *ClientPort) SendControl(ctx context.Context, msg *model.ControlMessage) (Status, error) {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()

	id := c.controlID.Add(1)
	if err := c.write(MsgControl, &controlRecord{MessageID: id, Body: *msg}); err != nil {
		return StatusDisconnected, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	for {
		select {
		case h := <-c.controlReply:
			if h.MessageID != id {
				c.logger.Debug("stale control reply", zap.Uint64("id", h.MessageID))
				continue
			}
			return Status(h.Status), nil
		case <-c.done:
			return StatusDisconnected, ErrDisconnected
		case <-ctx.Done():
			return StatusDisconnected, ctx.Err()
		}
	}
}

// Done 连接断开时关闭
func (c *ClientPort) Done() <-chan struct{} {
	return c.done
}

func (c *ClientPort) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *ClientPort) write(typ uint8, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeRecord(c.conn, typ, v)
}

// readLoop 唯一的读者; 没有挂起的槽位时阻塞等待, 不丢弃通知
func (c *ClientPort) readLoop() {
	defer close(c.completions)
	defer c.Close()

	for {
		typ, payload, err := readFrame(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("port read failed", zap.Error(err))
			}
			return
		}

		switch typ {
		case MsgNotification:
			var rec notificationRecord
			if err := model.DecodeRecord(payload, &rec); err != nil {
				c.logger.Warn("bad notification frame", zap.Error(err))
				continue
			}
			var m *Message
			select {
			case m = <-c.posted:
			case <-c.done:
				return
			}
			m.Header = rec.Header
			m.Notification = rec.Body
			c.outstanding.Add(-1)
			select {
			case c.completions <- m:
			case <-c.done:
				return
			}
		case MsgControlReply:
			var h ReplyHeader
			if err := model.DecodeRecord(payload, &h); err != nil {
				c.logger.Warn("bad control reply frame", zap.Error(err))
				continue
			}
			select {
			case c.controlReply <- h:
			default:
				c.logger.Debug("unsolicited control reply", zap.Uint64("id", h.MessageID))
			}
		default:
			c.logger.Debug("ignoring frame", zap.Uint8("type", typ))
		}
	}
}
