//go:build linux

package model

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const (
	FanotifyEventMetadataSize = 24
)

// ReadFanotifyMetadata 从缓冲区解析一条事件头
/*
type FanotifyEventMetadata struct {
	Event_len    uint32
	Vers         uint8
	Reserved     uint8
	Metadata_len uint16
	Mask         uint64
	Fd           int32
	Pid          int32
}
*/
func ReadFanotifyMetadata(buf []byte) (unix.FanotifyEventMetadata, error) {
	var md unix.FanotifyEventMetadata
	if len(buf) < FanotifyEventMetadataSize {
		return md, ErrShortRecord
	}
	err := binary.Read(bytes.NewReader(buf[:FanotifyEventMetadataSize]), binary.LittleEndian, &md)
	return md, err
}
