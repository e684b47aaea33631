package port

import (
	"errors"
	"fmt"
)

var (
	ErrDisconnected      = errors.New("port disconnected")
	ErrConnectionRefused = errors.New("connection refused: a monitor is already connected")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrUnexpectedFrame   = errors.New("unexpected frame")
	ErrTooManyPosted     = errors.New("too many posted receives")
	ErrServerClosed      = errors.New("server closed")
)

// StatusError 对端返回了非成功状态
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer replied %s", e.Status)
}
