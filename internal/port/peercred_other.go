//go:build !linux

package port

import (
	"errors"
	"net"
)

func peerCredentials(net.Conn) (int32, uint32, error) {
	return 0, 0, errors.New("peer credentials not supported")
}
