package pipewire

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type returnRecorder struct {
	mu  sync.Mutex
	ids []int
}

func (r *returnRecorder) record(id int) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *returnRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ids...)
}

func TestNegotiatePicksFirstCommonFormat(t *testing.T) {
	l := NewLoopback(LoopbackOptions{Formats: []PixelFormat{FormatBGRx, FormatRGBx}}, discardLogger())
	defer l.Close()

	n, err := l.CreateNode(context.Background(), NodeParams{
		Name: "test", Width: 640, Height: 480,
		Formats:     []PixelFormat{FormatRGBA, FormatRGBx},
		Framerate:   60,
		BufferCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, FormatRGBx, n.Format().PixelFormat)
	assert.Equal(t, 640*4, n.Format().Stride)
	assert.EqualValues(t, firstNodeID, n.ID())
}

func TestNegotiateFailures(t *testing.T) {
	l := NewLoopback(LoopbackOptions{Formats: []PixelFormat{FormatBGRx}, MaxWidth: 1024, MaxHeight: 1024}, discardLogger())
	defer l.Close()

	cases := []NodeParams{
		{Width: 640, Height: 480, Formats: []PixelFormat{FormatRGBA}, BufferCount: 3},
		{Width: 2048, Height: 480, Formats: []PixelFormat{FormatBGRx}, BufferCount: 3},
		{Width: 0, Height: 480, Formats: []PixelFormat{FormatBGRx}, BufferCount: 3},
		{Width: 640, Height: 480, Formats: []PixelFormat{FormatBGRx}, BufferCount: 0},
	}
	for _, params := range cases {
		_, err := l.CreateNode(context.Background(), params)
		assert.ErrorIs(t, err, ErrNegotiation)
	}
	assert.Empty(t, l.Nodes())
}

func TestQueueWithoutConsumerRecycles(t *testing.T) {
	l := NewLoopback(LoopbackOptions{}, discardLogger())
	defer l.Close()

	rec := &returnRecorder{}
	n, err := l.CreateNode(context.Background(), NodeParams{
		Width: 4, Height: 4, Formats: []PixelFormat{FormatRGBA}, BufferCount: 2,
		OnBufferReturned: rec.record,
	})
	require.NoError(t, err)

	require.NoError(t, n.Queue(Buffer{ID: 1}))
	require.NoError(t, n.Queue(Buffer{ID: 0}))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []int{0, 1}, rec.snapshot())
}

func TestConsumerReceiveAndReturn(t *testing.T) {
	l := NewLoopback(LoopbackOptions{}, discardLogger())
	defer l.Close()

	rec := &returnRecorder{}
	n, err := l.CreateNode(context.Background(), NodeParams{
		Width: 4, Height: 4, Formats: []PixelFormat{FormatRGBA}, BufferCount: 3,
		OnBufferReturned: rec.record,
	})
	require.NoError(t, err)

	c, err := l.Connect(n.ID())
	require.NoError(t, err)
	_, err = l.Connect(n.ID())
	assert.ErrorIs(t, err, ErrAlreadyBound)

	require.NoError(t, n.Queue(Buffer{ID: 2, Sequence: 7, PTS: 42}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, buf.ID)
	assert.EqualValues(t, 7, buf.Sequence)
	assert.EqualValues(t, 42, buf.PTS)
	assert.Empty(t, rec.snapshot())

	c.Return(buf.ID)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
}

func TestDestroyReturnsUndeliveredBuffers(t *testing.T) {
	l := NewLoopback(LoopbackOptions{}, discardLogger())
	defer l.Close()

	rec := &returnRecorder{}
	n, err := l.CreateNode(context.Background(), NodeParams{
		Width: 4, Height: 4, Formats: []PixelFormat{FormatRGBA}, BufferCount: 3,
		OnBufferReturned: rec.record,
	})
	require.NoError(t, err)
	c, err := l.Connect(n.ID())
	require.NoError(t, err)

	require.NoError(t, n.Queue(Buffer{ID: 0}))
	require.NoError(t, n.Queue(Buffer{ID: 1}))
	require.NoError(t, n.Destroy())

	assert.ElementsMatch(t, []int{0, 1}, rec.snapshot())
	assert.ErrorIs(t, n.Queue(Buffer{ID: 2}), ErrNodeDestroyed)
	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNodeDestroyed)
	assert.Empty(t, l.Nodes())
}

func TestOpenRemoteReturnsFreshHandles(t *testing.T) {
	l := NewLoopback(LoopbackOptions{}, discardLogger())

	a, err := l.OpenRemote()
	require.NoError(t, err)
	b, err := l.OpenRemote()
	require.NoError(t, err)

	assert.NotEqual(t, a.File.Fd(), b.File.Fd())
	assert.Equal(t, 2, l.OpenRemotes())

	require.NoError(t, l.Close())
	assert.Zero(t, l.OpenRemotes())
	assert.Error(t, a.File.Close(), "transport close releases client ends too")
	_, err = l.OpenRemote()
	assert.ErrorIs(t, err, ErrTransportClose)
}

func TestRemoteCloseReleasesBothEnds(t *testing.T) {
	l := NewLoopback(LoopbackOptions{}, discardLogger())
	defer l.Close()

	r, err := l.OpenRemote()
	require.NoError(t, err)
	local := r.local

	_, err = r.File.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = local.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Zero(t, l.OpenRemotes())
	assert.Error(t, local.Close())
}

func TestShouldLogRateLimits(t *testing.T) {
	var last atomic.Int64
	assert.True(t, ShouldLog(&last, time.Hour))
	assert.False(t, ShouldLog(&last, time.Hour))
	assert.True(t, ShouldLog(nil, time.Hour))
}
