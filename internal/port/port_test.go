//go:build linux

package port

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/policy"
)

func startServer(t *testing.T) (*Server, *policy.Store) {
	t.Helper()
	store := policy.NewStore()
	srv := NewServer(filepath.Join(t.TempDir(), "dirctl.sock"), NewControlChannel(store, nil), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv, store
}

func connect(t *testing.T, srv *Server) *ClientPort {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, srv.Path(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool {
		_, ok := srv.Peer()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

func controlMsg(t *testing.T, on bool, path string) *model.ControlMessage {
	t.Helper()
	msg, err := model.NewControlMessage(on, path)
	require.NoError(t, err)
	return &msg
}

func TestServer_SendWithoutConnection(t *testing.T) {
	srv, _ := startServer(t)
	n, _ := model.NewNotification("/srv/data/x", "/bin/rm", 1)
	assert.NoError(t, srv.SendNotification(&n))
}

func TestServer_ControlUpdatesStore(t *testing.T) {
	srv, store := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	st, err := c.SendControl(ctx, controlMsg(t, true, "/srv/data/"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st)
	assert.True(t, store.IsProtected("/srv/data/file"))

	st, err = c.SendControl(ctx, controlMsg(t, false, ""))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st)
	assert.False(t, store.Enabled())

	bad := &model.ControlMessage{OnOff: 1, PathLength: model.BufferSize + 2}
	st, err = c.SendControl(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidParameter, st)
	assert.False(t, store.Enabled())
}

func TestServer_RejectsSecondMonitor(t *testing.T) {
	srv, _ := startServer(t)
	first := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, srv.Path(), nil)
	assert.ErrorIs(t, err, ErrConnectionRefused)

	// 第一个连接不受影响
	st, err := first.SendControl(ctx, controlMsg(t, true, "/a/"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st)
}

func TestServer_ReconnectAfterDisconnect(t *testing.T) {
	srv, _ := startServer(t)
	first := connect(t, srv)
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		_, ok := srv.Peer()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	connect(t, srv)
}

func TestServer_ConcurrentNotificationsCorrelate(t *testing.T) {
	srv, _ := startServer(t)
	c := connect(t, srv)

	const slots = 3
	for i := 0; i < slots; i++ {
		require.NoError(t, c.GetMessage(&Message{}))
	}

	var (
		mu       sync.Mutex
		received = map[string]int{}
	)
	go func() {
		for m := range c.Completions() {
			path := m.Notification.Path()
			mu.Lock()
			received[path]++
			mu.Unlock()

			// 奇数编号的请求回复失败状态, 用来检查回复没有错配
			st := StatusSuccess
			var idx int
			fmt.Sscanf(filepath.Base(path), "f%d", &idx)
			if idx%2 == 1 {
				st = StatusInsufficientResources
			}
			if c.Reply(m.Header.MessageID, st) != nil {
				return
			}
			if c.GetMessage(m) != nil {
				return
			}
		}
	}()

	const k = 40
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, _ := model.NewNotification(fmt.Sprintf("/srv/data/f%d", i), "/bin/sh", uint32(i))
			err := srv.SendNotification(&n)
			if i%2 == 1 {
				var se *StatusError
				if assert.ErrorAs(t, err, &se) {
					assert.Equal(t, StatusInsufficientResources, se.Status)
				}
			} else {
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, k)
	for path, count := range received {
		assert.Equal(t, 1, count, path)
	}
	assert.Eventually(t, func() bool { return c.Outstanding() == slots }, time.Second, 10*time.Millisecond)
}

func TestServer_DisconnectUnblocksSender(t *testing.T) {
	srv, _ := startServer(t)
	c := connect(t, srv)
	require.NoError(t, c.GetMessage(&Message{}))

	errCh := make(chan error, 1)
	go func() {
		n, _ := model.NewNotification("/srv/data/x", "", 7)
		errCh <- srv.SendNotification(&n)
	}()

	select {
	case m := <-c.Completions():
		assert.Equal(t, uint32(7), m.Notification.ProcessID)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("sender still blocked after disconnect")
	}
}

func TestClientPort_ClosedRejectsPosts(t *testing.T) {
	srv, _ := startServer(t)
	c := connect(t, srv)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.GetMessage(&Message{}), ErrDisconnected)
	_, err := c.SendControl(context.Background(), controlMsg(t, false, ""))
	assert.ErrorIs(t, err, ErrDisconnected)

	_, open := <-c.Completions()
	assert.False(t, open)
}
