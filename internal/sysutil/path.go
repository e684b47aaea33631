package sysutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 目录名无法以 UTF-16 在控制通道上传输
var ErrInvalidUTF8 = errors.New("directory name is not valid UTF-8")

// NormalizeDir 规范化操作员给出的目录: 绝对路径, 解析符号链接, 末尾追加分隔符
func NormalizeDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", &os.PathError{Op: "normalize", Path: dir, Err: os.ErrInvalid}
	}
	if !utf8.ValidString(resolved) {
		return "", &os.PathError{Op: "normalize", Path: dir, Err: ErrInvalidUTF8}
	}
	return WithTrailingSeparator(filepath.Clean(resolved)), nil
}

// WithTrailingSeparator 保证以分隔符结尾
func WithTrailingSeparator(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}
