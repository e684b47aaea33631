package sysutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMounts = `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
/dev/sda1 / ext4 rw,relatime 0 0
/dev/sdb1 /srv xfs rw,relatime 0 0
server:/export /srv/share nfs4 rw,relatime 0 0
//nas/media /mnt/my\040media cifs rw 0 0
`

func TestParseMounts(t *testing.T) {
	entries, err := ParseMounts(strings.NewReader(sampleMounts))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, "/mnt/my media", entries[4].MountPoint)
	assert.Equal(t, "cifs", entries[4].FSType)
}

func TestMountFor(t *testing.T) {
	entries, err := ParseMounts(strings.NewReader(sampleMounts))
	require.NoError(t, err)

	tests := []struct {
		path   string
		fstype string
	}{
		{"/home/user", "ext4"},
		{"/srv", "xfs"},
		{"/srv/data", "xfs"},
		{"/srv/share/docs", "nfs4"},
		{"/srv/shared", "xfs"},
		{"/mnt/my media/film", "cifs"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, ok := MountFor(entries, tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.fstype, e.FSType)
		})
	}
}

func TestIsNetworkFS(t *testing.T) {
	assert.True(t, IsNetworkFS("nfs"))
	assert.True(t, IsNetworkFS("fuse.sshfs"))
	assert.False(t, IsNetworkFS("ext4"))
	assert.False(t, IsNetworkFS("tmpfs"))
}
