package port

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
)

// DefaultSocketPath agent 与监控端之间唯一的通道
const DefaultSocketPath = "/run/dirsentry/dirctl.sock"

// ControlHandler 处理监控端发来的控制消息
type ControlHandler interface {
	ReceiveControlMessage(msg *model.ControlMessage) Status
}

// Peer 当前连接的监控端
type Peer struct {
	PID         int32
	UID         uint32
	Session     uuid.UUID
	ConnectedAt time.Time
}

// Server agent 端的通信端口, 同一时间最多一个连接
type Server struct {
	path    string
	control ControlHandler
	logger  *zap.Logger

	OnConnect    func(Peer)
	OnDisconnect func(Peer)

	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	conn   *serverConn
	closed bool

	// sendMu 保证线上同一时间只有一条通知
	sendMu sync.Mutex
	nextID atomic.Uint64
}

type serverConn struct {
	net.Conn
	peer Peer

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan Status

	done chan struct{}
}

func NewServer(path string, control ControlHandler, logger *zap.Logger) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{path: path, control: control, logger: logger}
}

func (s *Server) Path() string { return s.path }

// Start 监听套接字并开始接受连接
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	os.Remove(s.path)

	l, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		l.Close()
		return fmt.Errorf("chmod %s: %w", s.path, err)
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("🔌 port listening", zap.String("socket", s.path))
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		s.accept(c)
	}
}

func (s *Server) accept(c net.Conn) {
	s.mu.Lock()
	if s.closed || s.conn != nil {
		s.mu.Unlock()
		writeRecord(c, MsgConnectAck, &connectAck{Status: int32(StatusConnectionRefused)})
		c.Close()
		s.logger.Warn("⛔ monitor connection refused, slot in use")
		return
	}

	peer := Peer{Session: uuid.New(), ConnectedAt: time.Now()}
	if pid, uid, err := peerCredentials(c); err == nil {
		peer.PID, peer.UID = pid, uid
	}
	sc := &serverConn{
		Conn:    c,
		peer:    peer,
		pending: make(map[uint64]chan Status),
		done:    make(chan struct{}),
	}
	// 确认帧必须先于任何通知写出
	sc.writeMu.Lock()
	s.conn = sc
	s.mu.Unlock()
	err := writeRecord(sc.Conn, MsgConnectAck, &connectAck{Status: int32(StatusSuccess)})
	sc.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("connect ack failed", zap.Error(err))
	}

	s.logger.Info("✅ monitor connected",
		zap.Int32("pid", peer.PID),
		zap.Uint32("uid", peer.UID),
		zap.String("session", peer.Session.String()),
	)
	if s.OnConnect != nil {
		s.OnConnect(peer)
	}

	s.wg.Add(1)
	go s.readLoop(sc)
}

func (s *Server) readLoop(sc *serverConn) {
	defer s.wg.Done()
	defer s.disconnect(sc)

	for {
		typ, payload, err := readFrame(sc)
		if err != nil {
			return
		}
		switch typ {
		case MsgReply:
			var h ReplyHeader
			if err := model.DecodeRecord(payload, &h); err != nil {
				s.logger.Debug("bad reply frame", zap.Error(err))
				continue
			}
			if !sc.complete(h.MessageID, Status(h.Status)) {
				s.logger.Debug("reply for unknown message", zap.Uint64("id", h.MessageID))
			}
		case MsgControl:
			var rec controlRecord
			status := StatusInvalidParameter
			if err := model.DecodeRecord(payload, &rec); err == nil && s.control != nil {
				status = s.control.ReceiveControlMessage(&rec.Body)
			}
			reply := &ReplyHeader{Status: int32(status), MessageID: rec.MessageID}
			if err := sc.write(MsgControlReply, reply); err != nil {
				return
			}
		default:
			s.logger.Debug("ignoring frame", zap.Uint8("type", typ))
		}
	}
}

func (s *Server) disconnect(sc *serverConn) {
	s.mu.Lock()
	if s.conn == sc {
		s.conn = nil
	}
	s.mu.Unlock()

	close(sc.done)
	sc.Close()

	s.logger.Info("👋 monitor disconnected", zap.String("session", sc.peer.Session.String()))
	if s.OnDisconnect != nil {
		s.OnDisconnect(sc.peer)
	}
}

// Peer 当前连接的监控端
func (s *Server) Peer() (Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return Peer{}, false
	}
	return s.conn.peer, true
}

// SendNotification 把通知发给已连接的监控端并等待其回复; 没有连接时直接返回成功
func (s *Server) SendNotification(n *model.Notification) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	sc := s.conn
	s.mu.Unlock()
	if sc == nil {
		return nil
	}

	id := s.nextID.Add(1)
	ch := sc.register(id)
	defer sc.unregister(id)

	rec := &notificationRecord{
		Header: MessageHeader{ReplyLength: replyHeaderSize, MessageID: id},
		Body:   *n,
	}
	if err := sc.write(MsgNotification, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case st := <-ch:
		return st.Err()
	case <-sc.done:
		return ErrDisconnected
	}
}

// Close 停止监听并断开当前连接
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	sc := s.conn
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if sc != nil {
		sc.Close()
	}
	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

func (sc *serverConn) write(typ uint8, v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return writeRecord(sc.Conn, typ, v)
}

func (sc *serverConn) register(id uint64) chan Status {
	ch := make(chan Status, 1)
	sc.pendingMu.Lock()
	sc.pending[id] = ch
	sc.pendingMu.Unlock()
	return ch
}

func (sc *serverConn) unregister(id uint64) {
	sc.pendingMu.Lock()
	delete(sc.pending, id)
	sc.pendingMu.Unlock()
}

func (sc *serverConn) complete(id uint64, st Status) bool {
	sc.pendingMu.Lock()
	ch, ok := sc.pending[id]
	delete(sc.pending, id)
	sc.pendingMu.Unlock()
	if ok {
		ch <- st
	}
	return ok
}
