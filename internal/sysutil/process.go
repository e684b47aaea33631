package sysutil

import (
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInspector 查询进程镜像路径
type ProcessInspector interface {
	ImagePath(pid uint32) (string, error)
}

// GopsutilInspector 基于 gopsutil 的实现; 取不到可执行文件路径时退回进程名
type GopsutilInspector struct{}

func (GopsutilInspector) ImagePath(pid uint32) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	if exe, err := p.Exe(); err == nil && exe != "" {
		return exe, nil
	}
	return p.Name()
}
