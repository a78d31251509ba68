package core

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screencastd/internal/pipewire"
)

func TestListOutputs(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	assert.Equal(t, []string{"eDP-1", "HDMI-A-1", "DP-3"}, f.svc.ListOutputs())
}

func TestRecordMonitorRejectsMetadataCursor(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)

	_, err = sess.RecordMonitor(context.Background(), "eDP-1", StreamOptions{CursorMode: CursorModeMetadata})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = sess.RecordMonitor(context.Background(), "eDP-1", StreamOptions{CursorMode: 3})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, sess.Streams())
	assert.Empty(t, f.loopback.Nodes())
}

func TestRecordMonitorUnknownOutput(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)

	_, err = sess.RecordMonitor(context.Background(), "DP-9", DefaultStreamOptions())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, sess.Streams())
}

func TestRecordMonitorNegotiationFailure(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{Formats: []pipewire.PixelFormat{pipewire.FormatBGRx}})
	sess, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)

	_, err = sess.RecordMonitor(context.Background(), "eDP-1", DefaultStreamOptions())
	assert.ErrorIs(t, err, ErrNegotiationFailed)
	assert.Empty(t, sess.Streams())
	assert.Empty(t, f.loopback.Nodes())

	// Nothing routed, so frames for that output go nowhere.
	f.svc.OnFrame("eDP-1", Frame{Image: solid(64, 48, blue)})
}

func TestStreamMetadata(t *testing.T) {
	f := newFixture(t, Config{MaxFPS: 30}, pipewire.LoopbackOptions{})
	_, st := f.startStream(t, "HDMI-A-1", StreamOptions{CursorMode: CursorModeHidden, Framerate: 24})

	md := st.Metadata()
	assert.Equal(t, "HDMI-A-1", md.Output)
	assert.Equal(t, pipewire.FormatRGBA, md.Format)
	assert.Equal(t, 32, md.Width)
	assert.Equal(t, 32, md.Height)
	assert.Equal(t, 64, md.Position.X)
	assert.Equal(t, CursorModeHidden, md.CursorMode)
	assert.EqualValues(t, 24, md.EffectiveFPS)
	assert.Equal(t, st.NodeID(), md.NodeID)
	assert.Equal(t, DefaultBufferCount, md.BufferCount)
}

func TestSessionStateMachine(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, err := f.svc.CreateSession(":1.1", SessionOptions{IsRecording: true})
	require.NoError(t, err)
	assert.Equal(t, SessionCreated, sess.State())
	assert.True(t, sess.Options().IsRecording)

	require.NoError(t, sess.Start())
	assert.Equal(t, SessionStarted, sess.State())
	assert.ErrorIs(t, sess.Start(), ErrInvalidState)

	require.NoError(t, sess.Stop())
	assert.Equal(t, SessionStopped, sess.State())
	assert.ErrorIs(t, sess.Start(), ErrInvalidState)

	_, err = sess.RecordMonitor(context.Background(), "eDP-1", DefaultStreamOptions())
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = sess.OpenPipeWireRemote()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStopIsIdempotentAndRemovesEverything(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)
	for _, out := range []string{"eDP-1", "HDMI-A-1"} {
		_, err := sess.RecordMonitor(context.Background(), out, DefaultStreamOptions())
		require.NoError(t, err)
	}
	require.NoError(t, sess.Start())
	remote, err := sess.OpenPipeWireRemote()
	require.NoError(t, err)
	assert.Len(t, f.loopback.Nodes(), 2)

	require.NoError(t, sess.Stop())
	require.NoError(t, sess.Stop())

	select {
	case <-sess.Done():
	default:
		t.Fatal("done not closed after stop")
	}
	_, err = f.svc.Session(sess.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, sess.Streams())
	assert.Empty(t, f.loopback.Nodes())
	assert.Zero(t, f.svc.router.len())
	assert.Error(t, remote.Close(), "session closes remotes it handed out")
}

func TestStopReleasesRemoteHandles(t *testing.T) {
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc fd table")
	}
	before := len(fds)

	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	for range 20 {
		sess, err := f.svc.CreateSession(":1.1", SessionOptions{})
		require.NoError(t, err)
		_, err = sess.OpenPipeWireRemote()
		require.NoError(t, err)
		_, err = sess.OpenPipeWireRemote()
		require.NoError(t, err)
		require.NoError(t, sess.Stop())
	}

	assert.Zero(t, f.loopback.OpenRemotes())
	fds, err = os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(fds), before+2)
}

func TestConcurrentStop(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, _ := f.startStream(t, "eDP-1", DefaultStreamOptions())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sess.Stop())
		}()
	}
	wg.Wait()
	assert.Empty(t, f.loopback.Nodes())
}

func TestStopWhileTicking(t *testing.T) {
	f := newFixture(t, Config{CloseGrace: 10 * time.Millisecond}, pipewire.LoopbackOptions{})
	sess, st := f.startStream(t, "eDP-1", DefaultStreamOptions())
	img := solid(64, 48, blue)

	stop := make(chan struct{})
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		base := time.Now()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			f.svc.OnFrame("eDP-1", frameAt(img, base, i, time.Second/60))
		}
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, sess.Stop())
	published := st.Stats().Published
	assert.Equal(t, OutcomeInactive, st.Publisher().Tick(frameAt(img, time.Now(), 0, 0)))
	close(stop)
	<-ticked
	assert.Equal(t, published, st.Stats().Published)
}

func TestStopReclaimsHeldBuffersAfterGrace(t *testing.T) {
	f := newFixture(t, Config{CloseGrace: 20 * time.Millisecond}, pipewire.LoopbackOptions{})
	sess, st := f.startStream(t, "HDMI-A-1", StreamOptions{CursorMode: CursorModeHidden})
	consumer, err := f.loopback.Connect(st.NodeID())
	require.NoError(t, err)

	img := solid(32, 32, green)
	base := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		require.Equal(t, OutcomePublished, st.Publisher().Tick(frameAt(img, base, i, time.Second/60)))
	}
	// Hold one buffer outside the delivery queue.
	_, err = consumer.Receive(context.Background())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, sess.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, PoolCounts{Free: 3}, st.Stats().Pool)
}

func TestAttachToStartedSessionLeavesOthersRunning(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, first := f.startStream(t, "eDP-1", StreamOptions{CursorMode: CursorModeHidden})
	base := time.Unix(0, 0)
	img := solid(64, 48, blue)

	require.Equal(t, OutcomePublished, first.Publisher().Tick(frameAt(img, base, 0, 0)))

	second, err := sess.RecordMonitor(context.Background(), "HDMI-A-1", StreamOptions{CursorMode: CursorModeHidden})
	require.NoError(t, err)
	assert.True(t, second.Publisher().Active())
	assert.True(t, first.Publisher().Active())

	require.Equal(t, OutcomePublished, first.Publisher().Tick(frameAt(img, base, 1, time.Second/60)))
	assert.EqualValues(t, 2, first.Stats().Sequence)
	require.Equal(t, OutcomePublished, second.Publisher().Tick(frameAt(solid(32, 32, green), base, 0, 0)))
	assert.Len(t, sess.Streams(), 2)
}

func TestOnFrameRoutesByOutput(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, edp := f.startStream(t, "eDP-1", StreamOptions{CursorMode: CursorModeHidden})
	hdmi, err := sess.RecordMonitor(context.Background(), "HDMI-A-1", StreamOptions{CursorMode: CursorModeHidden})
	require.NoError(t, err)

	f.svc.OnFrame("eDP-1", Frame{Image: solid(64, 48, blue), Time: time.Unix(1, 0)})
	assert.EqualValues(t, 1, edp.Stats().Published)
	assert.Zero(t, hdmi.Stats().Published)

	f.svc.OnFrame("DP-9", Frame{Image: solid(8, 8, blue)})
}

func TestSessionLimits(t *testing.T) {
	f := newFixture(t, Config{MaxSessions: 2, MaxStreamsPerSession: 1}, pipewire.LoopbackOptions{})

	a, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)
	_, err = f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)
	_, err = f.svc.CreateSession(":1.2", SessionOptions{})
	assert.ErrorIs(t, err, ErrResourceExhausted)

	_, err = a.RecordMonitor(context.Background(), "eDP-1", DefaultStreamOptions())
	require.NoError(t, err)
	_, err = a.RecordMonitor(context.Background(), "HDMI-A-1", DefaultStreamOptions())
	assert.ErrorIs(t, err, ErrResourceExhausted)

	require.NoError(t, a.Stop())
	_, err = f.svc.CreateSession(":1.2", SessionOptions{})
	assert.NoError(t, err)
}

func TestCloseClientOnlyStopsOwnedSessions(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	mine, err := f.svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)
	theirs, err := f.svc.CreateSession(":1.2", SessionOptions{})
	require.NoError(t, err)
	assert.Equal(t, ":1.2", theirs.Owner())

	require.NoError(t, f.svc.CloseClient(":1.1"))
	assert.Equal(t, SessionStopped, mine.State())
	assert.Equal(t, SessionCreated, theirs.State())

	got, err := f.svc.Session(theirs.ID())
	require.NoError(t, err)
	assert.Same(t, theirs, got)
	assert.Len(t, f.svc.Sessions(), 1)
}

func TestShutdownStopsAll(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	for i := 0; i < 3; i++ {
		_, _ = f.startStream(t, "eDP-1", DefaultStreamOptions())
	}
	require.NoError(t, f.svc.Shutdown())
	assert.Empty(t, f.svc.Sessions())
	assert.Empty(t, f.loopback.Nodes())
}

type countingMetrics struct {
	mu                 sync.Mutex
	published, dropped map[string]int
	sessions, streams  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{published: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) FramePublished(o string) { m.mu.Lock(); m.published[o]++; m.mu.Unlock() }
func (m *countingMetrics) FrameDropped(o string)   { m.mu.Lock(); m.dropped[o]++; m.mu.Unlock() }
func (m *countingMetrics) FrameSkipped(string)     {}
func (m *countingMetrics) SetActiveSessions(n int) { m.mu.Lock(); m.sessions = n; m.mu.Unlock() }
func (m *countingMetrics) SetActiveStreams(n int)  { m.mu.Lock(); m.streams = n; m.mu.Unlock() }

func TestServiceReportsMetrics(t *testing.T) {
	m := newCountingMetrics()
	lb := pipewire.NewLoopback(pipewire.LoopbackOptions{}, testLogger())
	t.Cleanup(func() { _ = lb.Close() })
	svc := NewService(Config{}, Deps{Outputs: testOutputs, Transport: lb, Logger: testLogger(), Metrics: m})

	sess, err := svc.CreateSession(":1.1", SessionOptions{})
	require.NoError(t, err)
	_, err = sess.RecordMonitor(context.Background(), "eDP-1", StreamOptions{CursorMode: CursorModeHidden})
	require.NoError(t, err)
	require.NoError(t, sess.Start())
	svc.OnFrame("eDP-1", Frame{Image: solid(64, 48, blue), Time: time.Unix(1, 0)})

	m.mu.Lock()
	assert.Equal(t, 1, m.sessions)
	assert.Equal(t, 1, m.streams)
	assert.Equal(t, 1, m.published["eDP-1"])
	m.mu.Unlock()

	require.NoError(t, svc.Shutdown())
	m.mu.Lock()
	assert.Zero(t, m.sessions)
	assert.Zero(t, m.streams)
	m.mu.Unlock()
}

func TestCloseStreamKeepsSessionRunning(t *testing.T) {
	f := newFixture(t, Config{}, pipewire.LoopbackOptions{})
	sess, first := f.startStream(t, "eDP-1", StreamOptions{CursorMode: CursorModeHidden})
	second, err := sess.RecordMonitor(context.Background(), "HDMI-A-1", StreamOptions{CursorMode: CursorModeHidden})
	require.NoError(t, err)

	require.NoError(t, sess.CloseStream(first))
	assert.ErrorIs(t, sess.CloseStream(first), ErrNotFound)
	assert.Equal(t, []*Stream{second}, sess.Streams())
	assert.Equal(t, []uint32{second.NodeID()}, f.loopback.Nodes())
	assert.Equal(t, SessionStarted, sess.State())
	assert.Equal(t, OutcomeInactive, first.Publisher().Tick(Frame{Image: solid(64, 48, blue)}))
}
