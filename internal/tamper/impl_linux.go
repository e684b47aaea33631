//go:build linux

package tamper

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Hara602/dirSentry/internal/model"
)

const pollTimeoutMs = 250

type fanotifyWatcher struct {
	fd     int
	opts   Options
	self   int32
	events chan model.TamperEvent
	stop   chan struct{}
	done   chan struct{}
}

func newWatcher(opts Options) (Watcher, error) {
	flags := uint(unix.FAN_CLASS_NOTIF |
		unix.FAN_CLOEXEC |
		unix.FAN_NONBLOCK)
	eventFlags := uint(unix.O_RDONLY | unix.O_LARGEFILE)
	fd, err := unix.FanotifyInit(flags, eventFlags)
	if err != nil {
		return nil, fmt.Errorf("fanotify init failed: %w", err)
	}

	// 标记后端目录所在的整个挂载, 事件再按路径过滤
	mask := uint64(unix.FAN_MODIFY | unix.FAN_CLOSE_WRITE)
	if err := unix.FanotifyMark(fd, unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT, mask, unix.AT_FDCWD, opts.Source); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fanotify mark %s: %w", opts.Source, err)
	}

	return &fanotifyWatcher{
		fd:     fd,
		opts:   opts,
		self:   int32(os.Getpid()),
		events: make(chan model.TamperEvent, 100),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (f *fanotifyWatcher) Start() {
	go f.loop()
}

func (f *fanotifyWatcher) loop() {
	defer close(f.done)

	buf := make([]byte, 4096)
	fds := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		ready, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			f.opts.Logger.Error("fanotify poll failed", zap.Error(err))
			return
		}
		if ready == 0 {
			continue
		}

		n, err := unix.Read(f.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			f.opts.Logger.Error("fanotify read failed", zap.Error(err))
			return
		}
		f.processEvents(buf[:n])
	}
}

// fanotify 读出的缓冲区是连续的 [FanotifyEventMetadata] 记录
func (f *fanotifyWatcher) processEvents(buf []byte) {
	offset := 0
	for offset+model.FanotifyEventMetadataSize <= len(buf) {
		meta, err := model.ReadFanotifyMetadata(buf[offset:])
		if err != nil {
			f.opts.Logger.Error("fanotify metadata read failed", zap.Error(err))
			return
		}
		if meta.Event_len < model.FanotifyEventMetadataSize {
			return
		}
		f.handle(meta)
		offset += int(meta.Event_len)
	}
}

func (f *fanotifyWatcher) handle(meta unix.FanotifyEventMetadata) {
	if meta.Vers != unix.FANOTIFY_METADATA_VERSION || meta.Fd < 0 {
		return
	}
	defer unix.Close(int(meta.Fd))

	// 经由保护挂载点的合法写入由本进程代为执行
	if meta.Pid == f.self {
		return
	}

	backing, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", meta.Fd))
	if err != nil {
		return
	}
	mapped, ok := translate(f.opts.Source, f.opts.MountPoint, backing)
	if !ok || !f.opts.Policy.IsProtected(mapped) {
		return
	}

	ev := model.TamperEvent{
		PID:       meta.Pid,
		FilePath:  mapped,
		Operation: getEventOp(meta.Mask),
		TimeStamp: time.Now(),
	}
	if f.opts.Inspector != nil {
		if img, err := f.opts.Inspector.ImagePath(uint32(meta.Pid)); err == nil {
			ev.ProcName = img
		}
	}

	f.opts.Logger.Debug("tamper event", zap.String("backing", backing), zap.String("file", ev.FilePath))
	select {
	case f.events <- ev:
	default:
		f.opts.Logger.Debug("tamper event dropped, queue full")
	}
}

func (f *fanotifyWatcher) Stop() {
	close(f.stop)
	<-f.done
	unix.Close(f.fd)
}

func (f *fanotifyWatcher) Events() <-chan model.TamperEvent { return f.events }

func getEventOp(mask uint64) string {
	var events []string
	if mask&unix.FAN_MODIFY != 0 {
		events = append(events, "MODIFY")
	}
	if mask&unix.FAN_CLOSE_WRITE != 0 {
		events = append(events, "CLOSE_WRITE")
	}
	if len(events) == 0 {
		return fmt.Sprintf("OTHER(0x%x)", mask)
	}
	return strings.Join(events, "|")
}
