package port

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Hara602/dirSentry/internal/model"
)

// 帧格式: 1 字节类型 + 4 字节大端长度 + 负载 (负载为小端定长记录)
const (
	MsgConnectAck   uint8 = 1
	MsgNotification uint8 = 2
	MsgReply        uint8 = 3
	MsgControl      uint8 = 4
	MsgControlReply uint8 = 5
)

const (
	frameHeaderSize = 5
	maxFrameSize    = 4096
)

// Status 回复状态码
type Status int32

const (
	StatusSuccess Status = iota
	StatusInvalidParameter
	StatusInsufficientResources
	StatusConnectionRefused
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusInsufficientResources:
		return "insufficient resources"
	case StatusConnectionRefused:
		return "connection refused"
	case StatusDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Err 非成功状态转为 *StatusError
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return &StatusError{Status: s}
}

// MessageHeader 每条通知之前的消息头
type MessageHeader struct {
	ReplyLength uint32
	MessageID   uint64
}

// ReplyHeader 对通知或控制消息的回复
type ReplyHeader struct {
	Status    int32
	MessageID uint64
}

type notificationRecord struct {
	Header MessageHeader
	Body   model.Notification
}

type controlRecord struct {
	MessageID uint64
	Body      model.ControlMessage
}

type connectAck struct {
	Status int32
}

var replyHeaderSize = uint32(binary.Size(ReplyHeader{}))

func writeFrame(w io.Writer, typ uint8, payload []byte) error {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

func writeRecord(w io.Writer, typ uint8, v any) error {
	payload, err := model.EncodeRecord(v)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", typ, err)
	}
	return writeFrame(w, typ, payload)
}

func readFrame(r io.Reader) (uint8, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(hdr[1:])
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}
