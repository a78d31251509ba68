package core

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go2tv.app/screencastd/internal/pipewire"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
)

type staticOutputs []Output

func (s staticOutputs) Outputs() []Output { return s }

func (s staticOutputs) Lookup(name string) (Output, bool) {
	for _, o := range s {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

var testOutputs = staticOutputs{
	{Name: "eDP-1", Mode: Mode{Width: 64, Height: 48, RefreshMilliHz: 120000}, Scale: 1, HardwareCursor: true},
	{Name: "HDMI-A-1", Mode: Mode{Width: 32, Height: 32, RefreshMilliHz: 60000}, Scale: 1, Position: image.Pt(64, 0), HardwareCursor: true},
	{Name: "DP-3", Mode: Mode{Width: 16, Height: 16, RefreshMilliHz: 144000}, Scale: 1, Position: image.Pt(96, 0), HardwareCursor: true},
}

type fakeCursor struct {
	mu    sync.Mutex
	state CursorState
}

func (c *fakeCursor) Cursor() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCursor) set(s CursorState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func redCursor(x, y float64) CursorState {
	return CursorState{
		Visible: true,
		X:       x,
		Y:       y,
		Image:   CursorImage{Image: solid(4, 4, red), Hotspot: image.Pt(0, 0)},
		Layer:   TopLayer,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc      *Service
	loopback *pipewire.Loopback
	cursor   *fakeCursor
}

func newFixture(t *testing.T, cfg Config, opts pipewire.LoopbackOptions) *fixture {
	t.Helper()
	lb := pipewire.NewLoopback(opts, testLogger())
	t.Cleanup(func() { _ = lb.Close() })
	cur := &fakeCursor{}
	svc := NewService(cfg, Deps{
		Outputs:   testOutputs,
		Transport: lb,
		Cursor:    cur,
		Logger:    testLogger(),
	})
	t.Cleanup(func() { _ = svc.Shutdown() })
	return &fixture{svc: svc, loopback: lb, cursor: cur}
}

// startStream creates a started session with one stream on output.
func (f *fixture) startStream(t *testing.T, output string, opts StreamOptions) (*Session, *Stream) {
	t.Helper()
	sess, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)
	st, err := sess.RecordMonitor(context.Background(), output, opts)
	require.NoError(t, err)
	require.NoError(t, sess.Start())
	return sess, st
}

func frameAt(img *image.RGBA, base time.Time, i int, interval time.Duration) Frame {
	return Frame{Image: img, Time: base.Add(time.Duration(i) * interval)}
}

func waitFree(t *testing.T, st *Stream, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return st.Stats().Pool.Free == n }, time.Second, time.Millisecond)
}

func hasColor(pix []byte, c color.RGBA) bool {
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i] == c.R && pix[i+1] == c.G && pix[i+2] == c.B && pix[i+3] == c.A {
			return true
		}
	}
	return false
}
