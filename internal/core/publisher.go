package core

import (
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"go2tv.app/screencastd/internal/pipewire"
)

// damageHistory is how many past refreshes of damage are remembered for
// partial blits.
const damageHistory = 16

var errNoImage = errors.New("frame has no image")

// Outcome is what a single FramePublisher tick did.
type Outcome int

const (
	OutcomeInactive Outcome = iota
	OutcomeSkipped
	OutcomeDropped
	OutcomeFailed
	OutcomePublished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	case OutcomePublished:
		return "published"
	default:
		return "unknown"
	}
}

// FramePublisher runs on the output's render thread. It decides per refresh
// whether to publish, copies the frame into a pool buffer and hands it to the
// transport. It never waits on the consumer.
type FramePublisher struct {
	output     Output
	cursorMode CursorMode
	cursor     *CursorCompositor
	pool       *BufferPool
	node       pipewire.Node
	metrics    Metrics
	log        *slog.Logger

	mu     sync.Mutex
	active bool
	closed bool
	clock  *FrameClock
	tick   uint64
	damage [damageHistory][]image.Rectangle

	published   atomic.Uint64
	dropped     atomic.Uint64
	skipped     atomic.Uint64
	failed      atomic.Uint64
	lastDropLog atomic.Int64
}

func (p *FramePublisher) activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.active = true
	}
}

// shutdown stops production. It waits for an in-flight tick to finish.
func (p *FramePublisher) shutdown() {
	p.mu.Lock()
	p.active = false
	p.closed = true
	p.mu.Unlock()
}

func (p *FramePublisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Tick processes one renderer frame.
func (p *FramePublisher) Tick(frame Frame) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return OutcomeInactive
	}

	p.tick++
	p.damage[p.tick%damageHistory] = frame.Damage

	now := frame.Time
	if now.IsZero() {
		now = time.Now()
	}
	if !p.clock.Due(now) {
		p.skipped.Add(1)
		p.metrics.FrameSkipped(p.output.Name)
		return OutcomeSkipped
	}

	buf, err := p.pool.Acquire()
	if err != nil {
		total := p.dropped.Add(1)
		p.metrics.FrameDropped(p.output.Name)
		if pipewire.ShouldLog(&p.lastDropLog, time.Second) {
			p.log.Debug("dropping frame", slog.String("reason", err.Error()), slog.Uint64("dropped_total", total))
		}
		return OutcomeDropped
	}

	if err := p.fill(buf, frame); err != nil {
		p.pool.Abort(buf)
		p.fail("blit failed", err)
		return OutcomeFailed
	}

	buf.Sequence = p.clock.Sequence()
	buf.PTS = p.clock.PTS(now)
	if err := p.pool.Commit(buf); err != nil {
		p.pool.Abort(buf)
		p.fail("commit failed", err)
		return OutcomeFailed
	}
	err = p.node.Queue(pipewire.Buffer{
		ID:       buf.ID,
		Sequence: buf.Sequence,
		PTS:      buf.PTS,
		Format:   buf.Format,
		Data:     buf.Image.Pix,
		Damage:   frame.Damage,
	})
	if err != nil {
		buf.valid = false
		_ = p.pool.Release(buf.ID)
		p.fail("queue failed", err)
		return OutcomeFailed
	}

	p.clock.Advance(now)
	p.published.Add(1)
	p.metrics.FramePublished(p.output.Name)
	return OutcomePublished
}

func (p *FramePublisher) fail(msg string, err error) {
	p.failed.Add(1)
	p.log.Warn(msg, slog.String("error", err.Error()))
}

// fill copies frame into buf, limited to what changed since buf last held a
// frame when that is known, then overlays the cursor if required.
func (p *FramePublisher) fill(buf *Buffer, frame Frame) error {
	if frame.Image == nil {
		return errNoImage
	}

	bounds := buf.Image.Bounds()
	if frame.Image.Bounds() != bounds {
		draw.ApproxBiLinear.Scale(buf.Image, bounds, frame.Image, frame.Image.Bounds(), draw.Src, nil)
		clear(buf.Depth)
	} else {
		for _, r := range p.region(buf) {
			draw.Draw(buf.Image, r, frame.Image, r.Min, draw.Src)
			copyDepth(buf.Depth, frame.Depth, bounds, r)
		}
	}

	buf.cursorRect = image.Rectangle{}
	if p.cursorMode == CursorModeEmbedded && !frame.CursorIncluded {
		buf.cursorRect = p.cursor.Composite(buf.Image, buf.Depth, p.output)
	}
	buf.tick = p.tick
	buf.valid = true
	return nil
}

// region returns the rectangles of buf that are stale for the current tick.
func (p *FramePublisher) region(buf *Buffer) []image.Rectangle {
	full := []image.Rectangle{buf.Image.Bounds()}
	if !buf.valid || buf.tick >= p.tick || p.tick-buf.tick >= damageHistory {
		return full
	}
	var rects []image.Rectangle
	for t := buf.tick + 1; t <= p.tick; t++ {
		d := p.damage[t%damageHistory]
		if d == nil {
			return full
		}
		rects = append(rects, d...)
	}
	if !buf.cursorRect.Empty() {
		rects = append(rects, buf.cursorRect)
	}
	out := rects[:0]
	for _, r := range rects {
		r = r.Intersect(buf.Image.Bounds())
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

func copyDepth(dst, src []uint8, bounds, r image.Rectangle) {
	if dst == nil {
		return
	}
	stride := bounds.Dx()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		start := (y-bounds.Min.Y)*stride + r.Min.X - bounds.Min.X
		end := start + r.Dx()
		if src == nil || end > len(src) {
			clear(dst[start:end])
			continue
		}
		copy(dst[start:end], src[start:end])
	}
}

// PublisherStats is a point-in-time view of a publisher's counters.
type PublisherStats struct {
	Published    uint64
	Dropped      uint64
	Skipped      uint64
	Failed       uint64
	Sequence     uint64
	EffectiveFPS uint32
	Start        time.Time
	Pool         PoolCounts
}

func (p *FramePublisher) Stats() PublisherStats {
	p.mu.Lock()
	seq, fps, start := p.clock.Sequence(), p.clock.FPS(), p.clock.Start()
	p.mu.Unlock()
	return PublisherStats{
		Published:    p.published.Load(),
		Dropped:      p.dropped.Load(),
		Skipped:      p.skipped.Load(),
		Failed:       p.failed.Load(),
		Sequence:     seq,
		EffectiveFPS: fps,
		Start:        start,
		Pool:         p.pool.Counts(),
	}
}
