//go:build linux

package tamper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestGetEventOp(t *testing.T) {
	assert.Equal(t, "MODIFY", getEventOp(unix.FAN_MODIFY))
	assert.Equal(t, "MODIFY|CLOSE_WRITE", getEventOp(unix.FAN_MODIFY|unix.FAN_CLOSE_WRITE))
	assert.Equal(t, "OTHER(0x1)", getEventOp(unix.FAN_ACCESS))
}

func TestProcessEvents_SkipsShortRecords(t *testing.T) {
	f := &fanotifyWatcher{opts: Options{}}
	// 长度不足一条元数据时直接忽略
	f.processEvents(make([]byte, 10))
}
