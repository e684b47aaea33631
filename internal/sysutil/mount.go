package sysutil

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem 目标位于网络文件系统上, 不予保护
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

const procMounts = "/proc/mounts"

var networkFilesystems = map[string]bool{
	"nfs":        true,
	"nfs4":       true,
	"cifs":       true,
	"smb3":       true,
	"smbfs":      true,
	"9p":         true,
	"ceph":       true,
	"glusterfs":  true,
	"fuse.sshfs": true,
	"afs":        true,
}

// MountEntry /proc/mounts 中的一行
type MountEntry struct {
	Source     string
	MountPoint string
	FSType     string
}

// ParseMounts 解析 /proc/mounts 格式的内容
func ParseMounts(r io.Reader) ([]MountEntry, error) {
	var entries []MountEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, MountEntry{
			Source:     fields[0],
			MountPoint: unescapeMount(fields[1]),
			FSType:     fields[2],
		})
	}
	return entries, scanner.Err()
}

// 内核把空格等字符写成八进制转义 (\040)
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			oct := s[i+1 : i+4]
			var v byte
			ok := true
			for _, c := range []byte(oct) {
				if c < '0' || c > '7' {
					ok = false
					break
				}
				v = v*8 + (c - '0')
			}
			if ok {
				b.WriteByte(v)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// MountFor 返回包含 path 的最长挂载点
func MountFor(entries []MountEntry, path string) (MountEntry, bool) {
	path = filepath.Clean(path)
	var best MountEntry
	found := false
	for _, e := range entries {
		mp := filepath.Clean(e.MountPoint)
		if path != mp && !strings.HasPrefix(path, strings.TrimSuffix(mp, "/")+"/") {
			continue
		}
		if !found || len(mp) >= len(filepath.Clean(best.MountPoint)) {
			best = e
			found = true
		}
	}
	return best, found
}

// IsNetworkFS 文件系统类型是否为网络文件系统
func IsNetworkFS(fstype string) bool {
	return networkFilesystems[fstype]
}

// CheckLocalFilesystem 拒绝位于网络文件系统上的目录
func CheckLocalFilesystem(path string) error {
	f, err := os.Open(procMounts)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := ParseMounts(f)
	if err != nil {
		return err
	}
	if e, ok := MountFor(entries, path); ok && IsNetworkFS(e.FSType) {
		return ErrNetworkFilesystem
	}
	return nil
}
