package tamper

import (
	"errors"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/sysutil"
)

var ErrUnsupported = errors.New("tamper watcher is not supported on this platform")

// Checker 受保护路径判定
type Checker interface {
	IsProtected(candidate string) bool
}

// Watcher 监视绕过保护挂载点直接写入后端目录的行为
type Watcher interface {
	Start()
	Stop()
	Events() <-chan model.TamperEvent
}

type Options struct {
	// Source 后端目录; MountPoint 为空时与 Source 相同
	Source     string
	MountPoint string
	Policy     Checker
	Inspector  sysutil.ProcessInspector
	Logger     *zap.Logger
}

func New(opts Options) (Watcher, error) {
	if opts.MountPoint == "" {
		opts.MountPoint = opts.Source
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return newWatcher(opts)
}

// translate 把后端路径映射为挂载点下的路径, 受保护路径以挂载点形式配置
func translate(source, mount, path string) (string, bool) {
	source = filepath.Clean(source)
	path = filepath.Clean(path)
	if path == source {
		return filepath.Clean(mount), true
	}
	prefix := strings.TrimSuffix(source, "/") + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return filepath.Join(mount, path[len(prefix):]), true
}
