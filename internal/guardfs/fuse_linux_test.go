//go:build linux

package guardfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/dirSentry/internal/model"
)

func TestSetattrAccess(t *testing.T) {
	tests := []struct {
		name  string
		valid uint32
		want  model.AccessMask
	}{
		{"mode", fuse.FATTR_MODE, model.AccessWriteDAC},
		{"owner", fuse.FATTR_UID | fuse.FATTR_GID, model.AccessWriteOwner},
		{"size", fuse.FATTR_SIZE, model.AccessWriteData},
		{"times", fuse.FATTR_MTIME, model.AccessWriteAttributes},
		{"none", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &fuse.SetAttrIn{}
			in.Valid = tt.valid
			assert.Equal(t, tt.want, setattrAccess(in))
		})
	}
}

func TestMountGuard(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("mounting requires root")
	}
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available")
	}

	f := newFixture(t)
	mountpoint := filepath.Join(filepath.Dir(f.protected), "mnt")
	require.NoError(t, os.Mkdir(mountpoint, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.protected, "keep.txt"), []byte("precious"), 0o644))

	// 受保护路径按挂载点形式配置
	f.store.SetProtectedPath(mountpoint+"/", true)

	m, err := f.guard.MountGuard(f.protected, mountpoint, MountOptions{})
	if err != nil {
		t.Skipf("mount failed: %v", err)
	}
	defer m.Unmount()

	p := filepath.Join(mountpoint, "keep.txt")
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "precious", string(b))

	_, err = os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.ErrorIs(t, os.Remove(p), os.ErrPermission)
	assert.ErrorIs(t, os.Chtimes(p, time.Now(), time.Now()), os.ErrPermission)

	b, err = os.ReadFile(filepath.Join(f.protected, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "precious", string(b))
}
