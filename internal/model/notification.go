package model

import (
	"bytes"
	"encoding/binary"
	"errors"

	"golang.org/x/text/encoding/unicode"
)

const (
	// BufferSize 每个字符串字段的容量: 256 个宽字符
	BufferSize = 256 * 2

	NotificationSize   = BufferSize + BufferSize + 4
	ControlMessageSize = 4 + 4 + BufferSize
)

var (
	ErrShortRecord = errors.New("short wire record")
	ErrPathTooLong = errors.New("path exceeds wire buffer capacity")
)

// 线上字符串统一为 UTF-16LE
var wide = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Notification 被拦截的打开尝试 (固定长度线上记录)
type Notification struct {
	FilePath    [BufferSize]byte
	ProcessName [BufferSize]byte
	ProcessID   uint32
}

// NewNotification 构造通知; 超出容量的字段被截断, truncated 为 true
func NewNotification(filePath, processImage string, pid uint32) (n Notification, truncated bool) {
	t1 := EncodeWide(n.FilePath[:], filePath)
	t2 := EncodeWide(n.ProcessName[:], processImage)
	n.ProcessID = pid
	return n, t1 || t2
}

func (n *Notification) Path() string  { return DecodeWide(n.FilePath[:]) }
func (n *Notification) Image() string { return DecodeWide(n.ProcessName[:]) }

// Saturated 任一字段没有 NUL 结尾, 即可能被截断.
// 恰好 256 个码元的字段与被截断的字段在线上无法区分, 两者都返回 true
func (n *Notification) Saturated() bool {
	full := func(b []byte) bool { return b[len(b)-2] != 0 || b[len(b)-1] != 0 }
	return full(n.FilePath[:]) || full(n.ProcessName[:])
}

func (n *Notification) MarshalBinary() ([]byte, error) {
	return EncodeRecord(n)
}

func (n *Notification) UnmarshalBinary(b []byte) error {
	return DecodeRecord(b, n)
}

// ControlMessage 监控端发给 agent 的开关消息
type ControlMessage struct {
	OnOff      uint32
	PathLength uint32 // Path 中有效字节数
	Path       [BufferSize]byte
}

// NewControlMessage 开启时路径必须完整放入缓冲区, 截断会保护一个不同的前缀, 因此直接拒绝
func NewControlMessage(on bool, path string) (ControlMessage, error) {
	var msg ControlMessage
	if !on {
		return msg, nil
	}
	enc, err := wide.NewEncoder().Bytes([]byte(path))
	if err != nil {
		return msg, err
	}
	if len(enc) > BufferSize {
		return msg, ErrPathTooLong
	}
	msg.OnOff = 1
	msg.PathLength = uint32(copy(msg.Path[:], enc))
	return msg, nil
}

func (c *ControlMessage) Enabled() bool { return c.OnOff != 0 }

// DecodePath 只做容量检查, 不做任何路径规范化
func (c *ControlMessage) DecodePath() (string, error) {
	if c.PathLength > BufferSize {
		return "", ErrPathTooLong
	}
	return DecodeWide(c.Path[:c.PathLength]), nil
}

func (c *ControlMessage) MarshalBinary() ([]byte, error) {
	return EncodeRecord(c)
}

func (c *ControlMessage) UnmarshalBinary(b []byte) error {
	return DecodeRecord(b, c)
}

// EncodeWide 将 s 以 UTF-16LE 写入 dst (先清零), 按码元边界截断且不拆分代理对
func EncodeWide(dst []byte, s string) (truncated bool) {
	clear(dst)
	enc, err := wide.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return true
	}
	n := len(enc)
	if n > len(dst) {
		truncated = true
		n = len(dst) &^ 1
		if n >= 2 {
			if u := binary.LittleEndian.Uint16(enc[n-2:]); u >= 0xD800 && u <= 0xDBFF {
				n -= 2
			}
		}
	}
	copy(dst, enc[:n])
	return truncated
}

// DecodeWide 读取到第一个 NUL 码元为止
func DecodeWide(src []byte) string {
	end := len(src) &^ 1
	for i := 0; i+1 < len(src); i += 2 {
		if src[i] == 0 && src[i+1] == 0 {
			end = i
			break
		}
	}
	out, err := wide.NewDecoder().Bytes(src[:end])
	if err != nil {
		return ""
	}
	return string(out)
}

// EncodeRecord 固定长度记录, 小端序
func EncodeRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(binary.Size(v))
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRecord(b []byte, v any) error {
	size := binary.Size(v)
	if size < 0 || len(b) < size {
		return ErrShortRecord
	}
	return binary.Read(bytes.NewReader(b[:size]), binary.LittleEndian, v)
}
