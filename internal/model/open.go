package model

import (
	"fmt"
	"os"
	"strings"
)

// Disposition 打开请求对已存在文件的处理方式 (NT 编号)
type Disposition uint32

const (
	DispositionSupersede   Disposition = 0
	DispositionOpen        Disposition = 1
	DispositionCreate      Disposition = 2
	DispositionOpenIf      Disposition = 3
	DispositionOverwrite   Disposition = 4
	DispositionOverwriteIf Disposition = 5
)

func (d Disposition) String() string {
	switch d {
	case DispositionSupersede:
		return "SUPERSEDE"
	case DispositionOpen:
		return "OPEN"
	case DispositionCreate:
		return "CREATE"
	case DispositionOpenIf:
		return "OPEN_IF"
	case DispositionOverwrite:
		return "OVERWRITE"
	case DispositionOverwriteIf:
		return "OVERWRITE_IF"
	}
	return fmt.Sprintf("DISPOSITION(%d)", uint32(d))
}

// Destructive 该处理方式是否会替换或丢弃已有内容 (SUPERSEDE / OVERWRITE / OVERWRITE_IF)
func (d Disposition) Destructive() bool {
	return d == DispositionSupersede || d == DispositionOverwrite || d == DispositionOverwriteIf
}

// AccessMask 请求/授予的访问权限位 (NT 取值)
type AccessMask uint32

const (
	AccessReadData             AccessMask = 0x00000001
	AccessWriteData            AccessMask = 0x00000002
	AccessAppendData           AccessMask = 0x00000004
	AccessReadEA               AccessMask = 0x00000008
	AccessWriteEA              AccessMask = 0x00000010
	AccessExecute              AccessMask = 0x00000020
	AccessReadAttributes       AccessMask = 0x00000080
	AccessWriteAttributes      AccessMask = 0x00000100
	AccessDelete               AccessMask = 0x00010000
	AccessReadControl          AccessMask = 0x00020000
	AccessWriteDAC             AccessMask = 0x00040000
	AccessWriteOwner           AccessMask = 0x00080000
	AccessSynchronize          AccessMask = 0x00100000
	AccessAccessSystemSecurity AccessMask = 0x01000000

	// AccessDestructive 非破坏性打开之后仍可能修改或销毁数据的权限集合
	AccessDestructive = AccessWriteData | AccessAppendData | AccessDelete |
		AccessWriteAttributes | AccessWriteEA | AccessWriteDAC | AccessWriteOwner |
		AccessAccessSystemSecurity
)

var accessNames = []struct {
	bit  AccessMask
	name string
}{
	{AccessReadData, "READ_DATA"},
	{AccessWriteData, "WRITE_DATA"},
	{AccessAppendData, "APPEND_DATA"},
	{AccessReadEA, "READ_EA"},
	{AccessWriteEA, "WRITE_EA"},
	{AccessExecute, "EXECUTE"},
	{AccessReadAttributes, "READ_ATTRIBUTES"},
	{AccessWriteAttributes, "WRITE_ATTRIBUTES"},
	{AccessDelete, "DELETE"},
	{AccessReadControl, "READ_CONTROL"},
	{AccessWriteDAC, "WRITE_DAC"},
	{AccessWriteOwner, "WRITE_OWNER"},
	{AccessSynchronize, "SYNCHRONIZE"},
	{AccessAccessSystemSecurity, "ACCESS_SYSTEM_SECURITY"},
}

func (m AccessMask) String() string {
	if m == 0 {
		return "NONE"
	}
	var parts []string
	rest := m
	for _, a := range accessNames {
		if m&a.bit != 0 {
			parts = append(parts, a.name)
			rest &^= a.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Has m 与 other 是否有交集
func (m AccessMask) Has(other AccessMask) bool {
	return m&other != 0
}

// OpenOptions 打开选项
type OpenOptions uint32

const (
	OptionDeleteOnClose OpenOptions = 0x00001000
)

// FileOpenRequest 一次打开尝试 (由拦截层构造, 引擎消费后丢弃)
type FileOpenRequest struct {
	Path          string // 规范化路径; 由 Attempt.ResolvePath 延迟填充
	ProcessID     uint32
	ProcessImage  string
	Disposition   Disposition
	DesiredAccess AccessMask
	Options       OpenOptions
}

// FromOpenFlags 将 open(2) 标志映射为处理方式和请求的访问权限
func FromOpenFlags(flags int) (Disposition, AccessMask) {
	disp := DispositionOpen
	switch {
	case flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		disp = DispositionCreate
	case flags&os.O_CREATE != 0 && flags&os.O_TRUNC != 0:
		disp = DispositionOverwriteIf
	case flags&os.O_CREATE != 0:
		disp = DispositionOpenIf
	case flags&os.O_TRUNC != 0:
		disp = DispositionOverwrite
	}

	access := AccessReadAttributes | AccessSynchronize
	switch flags & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		access |= AccessReadData
	case os.O_WRONLY:
		access |= AccessWriteData
	case os.O_RDWR:
		access |= AccessReadData | AccessWriteData
	}
	if flags&os.O_APPEND != 0 {
		access |= AccessAppendData
	}
	return disp, access
}
