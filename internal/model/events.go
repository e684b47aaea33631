package model

import "time"

// BlockedAttempt 监控端收到的一条拦截记录 (渲染 + 入库)
type BlockedAttempt struct {
	MessageID    uint64
	PID          uint32 // 进程ID
	ProcessImage string // 进程映像路径
	FilePath     string
	Truncated    bool // 任一字段占满了线上缓冲区 (可能被截断)
	ReceivedAt   time.Time
}

// TamperEvent 绕过受保护挂载点直接写入源目录的行为
type TamperEvent struct {
	PID       int32  // 进程ID
	ProcName  string // 进程名
	FilePath  string
	Operation string
	TimeStamp time.Time
}
