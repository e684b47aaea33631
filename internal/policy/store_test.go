package policy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_IsProtected(t *testing.T) {
	s := NewStore()
	s.SetProtectedPath("/srv/Data/", true)

	tests := []struct {
		candidate string
		want      bool
	}{
		{"/srv/Data/report.txt", true},
		{"/SRV/data/report.txt", true},
		{"/srv/data/sub/deep/file", true},
		{"/srv/Data/", true},
		{"/srv/Data", false},
		{"/srv/Database/x", false},
		{"/srv/other/x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsProtected(tt.candidate))
		})
	}
}

func TestStore_DisabledNeverMatches(t *testing.T) {
	s := NewStore()
	assert.False(t, s.IsProtected("/anything"))

	s.SetProtectedPath("/srv/data/", false)
	assert.False(t, s.Enabled())
	assert.False(t, s.IsProtected("/srv/data/file"))
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.SetProtectedPath("/srv/data/", true)
	assert.True(t, s.Enabled())

	s.Clear()
	assert.False(t, s.Enabled())
	assert.False(t, s.IsProtected("/srv/data/file"))
	assert.Equal(t, ProtectedPathConfig{}, s.Snapshot())
}

func TestStore_UnicodeFold(t *testing.T) {
	s := NewStore()
	s.SetProtectedPath("/données/", true)
	assert.True(t, s.IsProtected("/DONNÉES/a"))
	assert.False(t, s.IsProtected("/donnees/a"))
}

func TestStore_InvalidUTF8(t *testing.T) {
	s := NewStore()
	s.SetProtectedPath("/srv/\xff/", true)
	assert.True(t, s.IsProtected("/srv/\xff/secret"))
	assert.False(t, s.IsProtected("/srv/\xfe/secret"))

	// 经 UTF-16 线路后非法字节变成 U+FFFD, 不能再匹配任意非法字节
	s.SetProtectedPath("/srv/\uFFFD/", true)
	assert.False(t, s.IsProtected("/srv/\xfe/secret"))
	assert.True(t, s.IsProtected("/srv/\uFFFD/secret"))
}

// 并发写入时读者只能看到完整的旧值或新值
func TestStore_NoTornReads(t *testing.T) {
	s := NewStore()
	paths := []string{"/alpha/", "/bravo/"}
	s.SetProtectedPath(paths[0], true)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.SetProtectedPath(paths[i%2], true)
		}
	}()

	for i := 0; i < 10000; i++ {
		snap := s.Snapshot()
		assert.True(t, snap.Enabled)
		assert.Contains(t, paths, snap.Path, fmt.Sprintf("iteration %d", i))

		a := s.IsProtected("/alpha/x")
		b := s.IsProtected("/bravo/x")
		assert.False(t, a && b)
	}
	close(stop)
	wg.Wait()
}
