//go:build linux

package port

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials 通过 SO_PEERCRED 获取对端进程身份
func peerCredentials(c net.Conn) (int32, uint32, error) {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return 0, 0, errors.New("not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, err
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, 0, err
	}
	if credErr != nil {
		return 0, 0, credErr
	}
	return cred.Pid, cred.Uid, nil
}
