//go:build linux

package guardfs

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
)

// guardNode 回环节点; 对会修改数据的操作先经过判定
type guardNode struct {
	fs.LoopbackNode
	guard      *Guard
	mountpoint string
}

var _ = (fs.NodeOpener)((*guardNode)(nil))
var _ = (fs.NodeCreater)((*guardNode)(nil))
var _ = (fs.NodeUnlinker)((*guardNode)(nil))
var _ = (fs.NodeRmdirer)((*guardNode)(nil))
var _ = (fs.NodeRenamer)((*guardNode)(nil))
var _ = (fs.NodeSetattrer)((*guardNode)(nil))
var _ = (fs.NodeSetxattrer)((*guardNode)(nil))
var _ = (fs.NodeRemovexattrer)((*guardNode)(nil))

func (n *guardNode) rel() string { return n.Path(n.Root()) }

// backing 后端目录中的路径
func (n *guardNode) backing(name string) string {
	return filepath.Join(n.RootData.Path, n.rel(), name)
}

// visible 挂载点下的路径, 受保护路径按此形式配置
func (n *guardNode) visible(name string) func() (string, error) {
	return func() (string, error) {
		return filepath.Join(n.mountpoint, n.rel(), name), nil
	}
}

func callerPID(ctx context.Context) uint32 {
	if c, ok := fuse.FromContext(ctx); ok {
		return c.Pid
	}
	return 0
}

func release(ctx context.Context, fh fs.FileHandle) func() error {
	return func() error {
		if r, ok := fh.(fs.FileReleaser); ok {
			if errno := r.Release(ctx); errno != 0 {
				return errno
			}
		}
		return nil
	}
}

func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}

func (n *guardNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	disp, access := model.FromOpenFlags(int(flags))

	var (
		fh        fs.FileHandle
		fuseFlags uint32
	)
	isDenied, res := n.guard.check(op{
		pid:     callerPID(ctx),
		disp:    disp,
		access:  access,
		resolve: n.visible(""),
		open: func() outcome {
			var errno syscall.Errno
			fh, fuseFlags, errno = n.LoopbackNode.Open(ctx, flags)
			if errno != 0 {
				return outcome{err: errno}
			}
			return outcome{cancel: release(ctx, fh)}
		},
	})
	if isDenied {
		return nil, 0, syscall.EACCES
	}
	if res.err != nil {
		return nil, 0, errnoOf(res.err)
	}
	return fh, fuseFlags, 0
}

func (n *guardNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	disp, access := model.FromOpenFlags(int(flags))

	var (
		inode     *fs.Inode
		fh        fs.FileHandle
		fuseFlags uint32
	)
	isDenied, res := n.guard.check(op{
		pid:     callerPID(ctx),
		disp:    disp,
		access:  access,
		resolve: n.visible(name),
		open: func() outcome {
			var errno syscall.Errno
			inode, fh, fuseFlags, errno = n.LoopbackNode.Create(ctx, name, flags, mode, out)
			if errno != 0 {
				return outcome{err: errno}
			}
			// 撤销: 关闭句柄并删除刚创建的文件
			return outcome{cancel: func() error {
				err := release(ctx, fh)()
				if uerr := syscall.Unlink(n.backing(name)); err == nil {
					err = uerr
				}
				return err
			}}
		},
	})
	if isDenied {
		return nil, nil, 0, syscall.EACCES
	}
	if res.err != nil {
		return nil, nil, 0, errnoOf(res.err)
	}
	return inode, fh, fuseFlags, 0
}

// probe 不产生句柄的判定, 允许时返回 0
func (n *guardNode) probe(ctx context.Context, name string, disp model.Disposition, access model.AccessMask, opts model.OpenOptions) syscall.Errno {
	isDenied, _ := n.guard.check(op{
		pid:     callerPID(ctx),
		disp:    disp,
		access:  access | baseAccess,
		options: opts,
		resolve: n.visible(name),
		open: func() outcome {
			var st syscall.Stat_t
			if err := syscall.Lstat(n.backing(name), &st); err != nil {
				return outcome{err: err}
			}
			return outcome{}
		},
	})
	if isDenied {
		return syscall.EACCES
	}
	return 0
}

func (n *guardNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if errno := n.probe(ctx, name, model.DispositionOpen, model.AccessDelete, model.OptionDeleteOnClose); errno != 0 {
		return errno
	}
	return n.LoopbackNode.Unlink(ctx, name)
}

func (n *guardNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if errno := n.probe(ctx, name, model.DispositionOpen, model.AccessDelete, model.OptionDeleteOnClose); errno != 0 {
		return errno
	}
	return n.LoopbackNode.Rmdir(ctx, name)
}

func (n *guardNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if errno := n.probe(ctx, name, model.DispositionOpen, model.AccessDelete, model.OptionDeleteOnClose); errno != 0 {
		return errno
	}
	if np, ok := newParent.(*guardNode); ok {
		var st syscall.Stat_t
		if syscall.Lstat(np.backing(newName), &st) == nil {
			if errno := np.probe(ctx, newName, model.DispositionSupersede, model.AccessDelete|model.AccessWriteData, 0); errno != 0 {
				return errno
			}
		}
	}
	return n.LoopbackNode.Rename(ctx, name, newParent, newName, flags)
}

// setattrAccess 把属性修改映射为对应的访问权限
func setattrAccess(in *fuse.SetAttrIn) model.AccessMask {
	var access model.AccessMask
	if _, ok := in.GetMode(); ok {
		access |= model.AccessWriteDAC
	}
	_, uidOK := in.GetUID()
	_, gidOK := in.GetGID()
	if uidOK || gidOK {
		access |= model.AccessWriteOwner
	}
	if _, ok := in.GetSize(); ok {
		access |= model.AccessWriteData
	}
	_, atimeOK := in.GetATime()
	_, mtimeOK := in.GetMTime()
	if atimeOK || mtimeOK {
		access |= model.AccessWriteAttributes
	}
	return access
}

func (n *guardNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if access := setattrAccess(in); access != 0 {
		if errno := n.probe(ctx, "", model.DispositionOpen, access, 0); errno != 0 {
			return errno
		}
	}
	return n.LoopbackNode.Setattr(ctx, f, in, out)
}

func (n *guardNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if errno := n.probe(ctx, "", model.DispositionOpen, model.AccessWriteEA, 0); errno != 0 {
		return errno
	}
	return n.LoopbackNode.Setxattr(ctx, attr, data, flags)
}

func (n *guardNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if errno := n.probe(ctx, "", model.DispositionOpen, model.AccessWriteEA, 0); errno != 0 {
		return errno
	}
	return n.LoopbackNode.Removexattr(ctx, attr)
}

// Mount 挂载点上的保护视图
type Mount struct {
	Source     string
	MountPoint string
	server     *fuse.Server
	logger     *zap.Logger
}

type MountOptions struct {
	AllowOther bool
	Debug      bool // 输出 go-fuse 协议跟踪
}

// MountGuard 把 source 以回环方式挂载到 mountpoint; 两个路径都应已规范化
func (g *Guard) MountGuard(source, mountpoint string, opts MountOptions) (*Mount, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(source, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", source, err)
	}

	root := &fs.LoopbackRoot{
		Path: source,
		Dev:  uint64(st.Dev),
	}
	root.NewNode = func(rootData *fs.LoopbackRoot, parent *fs.Inode, name string, st *syscall.Stat_t) fs.InodeEmbedder {
		return &guardNode{
			LoopbackNode: fs.LoopbackNode{RootData: rootData},
			guard:        g,
			mountpoint:   mountpoint,
		}
	}
	rootNode := root.NewNode(root, nil, "", &st)
	root.RootNode = rootNode

	server, err := fs.Mount(mountpoint, rootNode, &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: opts.AllowOther,
			FsName:     source,
			Name:       "dirsentry",
			Debug:      opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mount %s on %s: %w", source, mountpoint, err)
	}

	g.logger.Info("🛡️ guard mounted", zap.String("source", source), zap.String("mountpoint", mountpoint))
	return &Mount{Source: source, MountPoint: mountpoint, server: server, logger: g.logger}, nil
}

func (m *Mount) Unmount() error {
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", m.MountPoint, err)
	}
	m.logger.Info("guard unmounted", zap.String("mountpoint", m.MountPoint))
	return nil
}
