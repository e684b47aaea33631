package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/port"
)

type fakePort struct {
	mu             sync.Mutex
	posted         []*port.Message
	maxOutstanding int
	replies        []uint64
	controls       []model.ControlMessage
	status         port.Status
	completions    chan *port.Message
}

func newFakePort() *fakePort {
	return &fakePort{completions: make(chan *port.Message, 16)}
}

func (f *fakePort) GetMessage(m *port.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, m)
	if len(f.posted) > f.maxOutstanding {
		f.maxOutstanding = len(f.posted)
	}
	return nil
}

func (f *fakePort) Completions() <-chan *port.Message { return f.completions }

func (f *fakePort) Reply(id uint64, st port.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, id)
	return nil
}

func (f *fakePort) SendControl(_ context.Context, msg *model.ControlMessage) (port.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, *msg)
	return f.status, nil
}

func (f *fakePort) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

// deliver 模拟一次接收完成; 没有挂起槽位时返回 false
func (f *fakePort) deliver(id uint64, path string) bool {
	f.mu.Lock()
	if len(f.posted) == 0 {
		f.mu.Unlock()
		return false
	}
	m := f.posted[0]
	f.posted = f.posted[1:]
	f.mu.Unlock()

	m.Header.MessageID = id
	m.Notification, _ = model.NewNotification(path, "/usr/bin/cp", uint32(id))
	f.completions <- m
	return true
}

type recordingHandler struct {
	mu       sync.Mutex
	attempts []model.BlockedAttempt
}

func (h *recordingHandler) HandleBlocked(_ context.Context, a model.BlockedAttempt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, a)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.attempts)
}

func TestNew_Config(t *testing.T) {
	c, err := New(newFakePort(), Config{}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, c.slots, DefaultRequests)
	assert.Equal(t, DefaultWorkers, c.workers)

	_, err = New(newFakePort(), Config{Workers: MaxWorkers + 1}, nil, nil)
	assert.ErrorIs(t, err, ErrBadConfig)
	_, err = New(newFakePort(), Config{Requests: port.MaxPosted + 1}, nil, nil)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestClient_PoolInvariant(t *testing.T) {
	const requests, cycles = 5, 50
	fp := newFakePort()
	h := &recordingHandler{}
	c, err := New(fp, Config{Requests: requests, Workers: 2}, h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return fp.Outstanding() == requests }, time.Second, time.Millisecond)

	for id := uint64(1); id <= cycles; id++ {
		require.Eventually(t, func() bool { return fp.deliver(id, "/srv/data/f") }, time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return c.Cycles() == cycles && c.Outstanding() == requests
	}, 2*time.Second, time.Millisecond)

	fp.mu.Lock()
	assert.LessOrEqual(t, fp.maxOutstanding, requests)
	assert.Len(t, fp.replies, cycles)
	assert.ElementsMatch(t, seq(cycles), fp.replies)
	fp.mu.Unlock()
	assert.Equal(t, cycles, h.count())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestClient_HandlerReceivesFields(t *testing.T) {
	fp := newFakePort()
	h := &recordingHandler{}
	c, err := New(fp, Config{Requests: 1}, h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return fp.deliver(9, "/srv/data/secret.txt") }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	a := h.attempts[0]
	assert.Equal(t, uint64(9), a.MessageID)
	assert.Equal(t, uint32(9), a.PID)
	assert.Equal(t, "/srv/data/secret.txt", a.FilePath)
	assert.Equal(t, "/usr/bin/cp", a.ProcessImage)
	assert.False(t, a.Truncated)
	assert.False(t, a.ReceivedAt.IsZero())
}

func TestClient_ClosedQueueIsFatal(t *testing.T) {
	fp := newFakePort()
	c, err := New(fp, Config{}, nil, nil)
	require.NoError(t, err)

	close(fp.completions)
	err = c.Run(context.Background())
	assert.True(t, errors.Is(err, port.ErrDisconnected))
}

func TestClient_EnableDisable(t *testing.T) {
	fp := newFakePort()
	c, err := New(fp, Config{}, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	st, err := c.Enable(ctx, "/srv/data/")
	require.NoError(t, err)
	assert.Equal(t, port.StatusSuccess, st)

	_, err = c.Disable(ctx)
	require.NoError(t, err)

	require.Len(t, fp.controls, 2)
	path, err := fp.controls[0].DecodePath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/", path)
	assert.True(t, fp.controls[0].Enabled())
	assert.False(t, fp.controls[1].Enabled())

	fp.status = port.StatusInvalidParameter
	st, err = c.Enable(ctx, "/srv/data/")
	assert.Equal(t, port.StatusInvalidParameter, st)
	var se *port.StatusError
	assert.ErrorAs(t, err, &se)
}

func TestClient_EnableRejectsLongPath(t *testing.T) {
	c, err := New(newFakePort(), Config{}, nil, nil)
	require.NoError(t, err)

	long := "/" + strings.Repeat("a", model.BufferSize)
	_, err = c.Enable(context.Background(), long)
	assert.ErrorIs(t, err, model.ErrPathTooLong)
}

func seq(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i + 1)
	}
	return out
}

type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
	err     chan error
}

func (h *blockingHandler) HandleBlocked(ctx context.Context, _ model.BlockedAttempt) {
	close(h.entered)
	<-h.release
	h.err <- ctx.Err()
}

// 已取出的记录在 Run 取消后仍以有效的 ctx 完成处理
func TestClient_HandlerOutlivesRunCancel(t *testing.T) {
	fp := newFakePort()
	h := &blockingHandler{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		err:     make(chan error, 1),
	}
	c, err := New(fp, Config{Requests: 1}, h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return fp.deliver(3, "/srv/data/f") }, time.Second, time.Millisecond)
	<-h.entered
	cancel()
	close(h.release)

	assert.NoError(t, <-h.err)
	require.NoError(t, <-errCh)
	fp.mu.Lock()
	assert.Equal(t, []uint64{3}, fp.replies)
	fp.mu.Unlock()
}
