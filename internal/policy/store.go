package policy

import (
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

// ProtectedPathConfig 当前受保护目录; Enabled 为 false 时 Path 不参与匹配
type ProtectedPathConfig struct {
	Path    string
	Enabled bool
}

// Store 单一受保护路径配置, 只能整体替换
type Store struct {
	mu  sync.Mutex
	cfg ProtectedPathConfig

	// enabled 是 cfg.Enabled 的无锁镜像, 供引擎快速路径读取
	enabled atomic.Bool
}

func NewStore() *Store {
	return &Store{}
}

// SetProtectedPath 整体替换配置
func (s *Store) SetProtectedPath(path string, enabled bool) {
	s.mu.Lock()
	s.cfg = ProtectedPathConfig{Path: path, Enabled: enabled}
	s.enabled.Store(enabled)
	s.mu.Unlock()
}

// Clear 关闭保护并释放路径
func (s *Store) Clear() {
	s.mu.Lock()
	s.cfg = ProtectedPathConfig{}
	s.enabled.Store(false)
	s.mu.Unlock()
}

// Enabled 无锁读取开关
func (s *Store) Enabled() bool {
	return s.enabled.Load()
}

func (s *Store) Snapshot() ProtectedPathConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// IsProtected candidate 是否位于受保护目录之下 (大小写不敏感的前缀匹配)
func (s *Store) IsProtected(candidate string) bool {
	if candidate == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return false
	}
	return hasPrefixFold(candidate, s.cfg.Path)
}

// hasPrefixFold 逐字符转大写后比较前缀; 非法 UTF-8 字节只与相同的原始字节匹配
func hasPrefixFold(s, prefix string) bool {
	for prefix != "" {
		if s == "" {
			return false
		}
		pr, pn := utf8.DecodeRuneInString(prefix)
		sr, sn := utf8.DecodeRuneInString(s)
		if (pr == utf8.RuneError && pn == 1) || (sr == utf8.RuneError && sn == 1) {
			if prefix[:pn] != s[:sn] {
				return false
			}
		} else if pr != sr && unicode.ToUpper(pr) != unicode.ToUpper(sr) {
			return false
		}
		prefix = prefix[pn:]
		s = s[sn:]
	}
	return true
}
