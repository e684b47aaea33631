package guardfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Hara602/dirSentry/internal/model"
)

const maxSymlinkHops = 40

// ErrDenied 被保护策略拒绝
var ErrDenied = syscall.EACCES

func denied(opName, name string) error {
	return &os.PathError{Op: opName, Path: name, Err: ErrDenied}
}

// resolveLocal 绝对路径, 解析父目录中的符号链接; 最后一个分量保持原样
func resolveLocal(name string) func() (string, error) {
	return func() (string, error) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
}

func (g *Guard) self() uint32 { return uint32(os.Getpid()) }

// OpenFile 与 os.OpenFile 相同, 但经过两阶段判定
func (g *Guard) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return g.openFile(name, flag, perm, 0)
}

func (g *Guard) Open(name string) (*os.File, error) {
	return g.OpenFile(name, os.O_RDONLY, 0)
}

func (g *Guard) Create(name string) (*os.File, error) {
	return g.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (g *Guard) openFile(name string, flag int, perm os.FileMode, hops int) (*os.File, error) {
	if hops > maxSymlinkHops {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ELOOP}
	}
	disp, access := model.FromOpenFlags(flag)

	var (
		f      *os.File
		target string
	)
	isDenied, res := g.check(op{
		pid:     g.self(),
		disp:    disp,
		access:  access,
		resolve: resolveLocal(name),
		open: func() outcome {
			// 最后一个分量是符号链接: 按目标路径重新发起一次打开
			if fi, err := os.Lstat(name); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				link, err := os.Readlink(name)
				if err != nil {
					return outcome{err: err}
				}
				if !filepath.IsAbs(link) {
					link = filepath.Join(filepath.Dir(name), link)
				}
				target = link
				return outcome{redirected: true}
			}

			created := false
			if flag&os.O_CREATE != 0 {
				if _, err := os.Lstat(name); errors.Is(err, fs.ErrNotExist) {
					created = true
				}
			}
			var err error
			f, err = os.OpenFile(name, flag, perm)
			if err != nil {
				return outcome{err: err}
			}
			return outcome{cancel: func() error {
				err := f.Close()
				if created {
					if rmErr := os.Remove(name); err == nil {
						err = rmErr
					}
				}
				return err
			}}
		},
	})
	if isDenied {
		return nil, denied("open", name)
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.redirected {
		return g.openFile(target, flag, perm, hops+1)
	}
	return f, nil
}

// probe 用一次不产生句柄的打开来判定非 open 类操作, 允许时执行 do
func (g *Guard) probe(opName, name string, disp model.Disposition, access model.AccessMask, opts model.OpenOptions, do func() error) error {
	isDenied, _ := g.check(op{
		pid:     g.self(),
		disp:    disp,
		access:  access | baseAccess,
		options: opts,
		resolve: resolveLocal(name),
		open: func() outcome {
			_, err := os.Lstat(name)
			return outcome{err: err}
		},
	})
	if isDenied {
		return denied(opName, name)
	}
	return do()
}

func (g *Guard) Remove(name string) error {
	return g.probe("remove", name, model.DispositionOpen, model.AccessDelete, model.OptionDeleteOnClose, func() error {
		return os.Remove(name)
	})
}

// Rename 源需要删除权限; 目标已存在时视为 SUPERSEDE
func (g *Guard) Rename(oldpath, newpath string) error {
	return g.probe("rename", oldpath, model.DispositionOpen, model.AccessDelete, model.OptionDeleteOnClose, func() error {
		if _, err := os.Lstat(newpath); err != nil {
			return os.Rename(oldpath, newpath)
		}
		return g.probe("rename", newpath, model.DispositionSupersede, model.AccessDelete|model.AccessWriteData, 0, func() error {
			return os.Rename(oldpath, newpath)
		})
	})
}

func (g *Guard) Chmod(name string, mode os.FileMode) error {
	return g.probe("chmod", name, model.DispositionOpen, model.AccessWriteDAC, 0, func() error {
		return os.Chmod(name, mode)
	})
}

func (g *Guard) Chown(name string, uid, gid int) error {
	return g.probe("chown", name, model.DispositionOpen, model.AccessWriteOwner, 0, func() error {
		return os.Chown(name, uid, gid)
	})
}

func (g *Guard) Truncate(name string, size int64) error {
	return g.probe("truncate", name, model.DispositionOpen, model.AccessWriteData, 0, func() error {
		return os.Truncate(name, size)
	})
}

func (g *Guard) Chtimes(name string, atime, mtime time.Time) error {
	return g.probe("chtimes", name, model.DispositionOpen, model.AccessWriteAttributes, 0, func() error {
		return os.Chtimes(name, atime, mtime)
	})
}

// Mkdir 新建目录不破坏已有数据
func (g *Guard) Mkdir(name string, perm os.FileMode) error {
	return g.probe("mkdir", name, model.DispositionCreate, model.AccessReadData, 0, func() error {
		return os.Mkdir(name, perm)
	})
}
