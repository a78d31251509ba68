// Package render is a stand-in compositor: one render loop per output, each
// producing a finished frame per refresh and handing it to a core.FrameSink.
package render

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"go2tv.app/screencastd/internal/core"
)

const barWidth = 16

// Driver runs the per-output render loops.
type Driver struct {
	sink    core.FrameSink
	pointer *Pointer
	cursor  *core.CursorCompositor
	log     *slog.Logger

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup
}

func NewDriver(sink core.FrameSink, pointer *Pointer, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		sink:    sink,
		pointer: pointer,
		cursor:  core.NewCursorCompositor(pointer),
		log:     log.With(slog.String("component", "render")),
		loops:   make(map[string]*loop),
	}
}

// Sync starts loops for new outputs, stops loops for removed ones and
// restarts loops whose output changed.
func (d *Driver) Sync(outputs []core.Output) {
	d.mu.Lock()
	defer d.mu.Unlock()

	want := make(map[string]core.Output, len(outputs))
	for _, o := range outputs {
		want[o.Name] = o
	}
	for name, l := range d.loops {
		if o, ok := want[name]; !ok || o != l.output {
			l.cancel()
			delete(d.loops, name)
		}
	}
	for name, o := range want {
		if _, ok := d.loops[name]; ok {
			continue
		}
		if o.Mode.Width <= 0 || o.Mode.Height <= 0 {
			d.log.Warn("skipping output with no mode", slog.String("output", name))
			continue
		}
		l := d.newLoop(o)
		d.loops[name] = l
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			l.run()
		}()
	}
}

// Running returns the names of outputs with a live render loop.
func (d *Driver) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.loops))
	for name := range d.loops {
		names = append(names, name)
	}
	return names
}

// Stop ends every loop and waits for them to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	for name, l := range d.loops {
		l.cancel()
		delete(d.loops, name)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// AnimatePointer moves the pointer around the given global area at 60Hz
// until ctx is done.
func (d *Driver) AnimatePointer(ctx context.Context, area image.Rectangle) {
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	c := area.Min.Add(area.Max).Div(2)
	rx, ry := float64(area.Dx())/3, float64(area.Dy())/3
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a := now.Sub(start).Seconds()
			d.pointer.MoveTo(float64(c.X)+rx*math.Cos(a), float64(c.Y)+ry*math.Sin(2*a))
		}
	}
}

type loop struct {
	output core.Output
	sink   core.FrameSink
	cursor *core.CursorCompositor
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	scene      *image.RGBA
	frame      *image.RGBA
	bar        image.Rectangle
	cursorRect image.Rectangle
	rendered   bool
}

func (d *Driver) newLoop(o core.Output) *loop {
	ctx, cancel := context.WithCancel(context.Background())
	bounds := image.Rect(0, 0, o.Mode.Width, o.Mode.Height)
	l := &loop{
		output: o,
		sink:   d.sink,
		log:    d.log.With(slog.String("output", o.Name)),
		ctx:    ctx,
		cancel: cancel,
		scene:  image.NewRGBA(bounds),
		frame:  image.NewRGBA(bounds),
	}
	if !o.HardwareCursor {
		l.cursor = d.cursor
	}
	paintBackground(l.scene)
	return l
}

func (l *loop) interval() time.Duration {
	mhz := l.output.Mode.RefreshMilliHz
	if mhz <= 0 {
		mhz = 60000
	}
	return time.Duration(int64(time.Second) * 1000 / int64(mhz))
}

func (l *loop) run() {
	ticker := time.NewTicker(l.interval())
	defer ticker.Stop()
	l.log.Debug("render loop started", slog.Duration("interval", l.interval()))
	for {
		select {
		case <-l.ctx.Done():
			l.log.Debug("render loop stopped")
			return
		case now := <-ticker.C:
			l.sink.OnFrame(l.output.Name, l.render(now))
		}
	}
}

// render advances the scene by one refresh and returns the composed frame.
// The frame image is reused, so sinks must copy what they keep.
func (l *loop) render(now time.Time) core.Frame {
	bounds := l.scene.Bounds()
	prevBar := l.bar
	x := 0
	if l.rendered {
		x = (prevBar.Min.X + 4) % bounds.Dx()
	}
	l.bar = image.Rect(x, 0, x+barWidth, bounds.Dy()).Intersect(bounds)
	if !prevBar.Empty() {
		paintBackgroundRect(l.scene, prevBar)
	}
	draw.Draw(l.scene, l.bar, image.NewUniform(color.RGBA{R: 0xf0, G: 0xc0, B: 0x20, A: 0xff}), image.Point{}, draw.Src)

	var damage []image.Rectangle
	if l.rendered {
		damage = []image.Rectangle{prevBar, l.bar}
		if !l.cursorRect.Empty() {
			damage = append(damage, l.cursorRect)
		}
		for _, r := range damage {
			draw.Draw(l.frame, r, l.scene, r.Min, draw.Src)
		}
	} else {
		draw.Draw(l.frame, bounds, l.scene, bounds.Min, draw.Src)
	}

	l.cursorRect = image.Rectangle{}
	if l.cursor != nil {
		l.cursorRect = l.cursor.Composite(l.frame, nil, l.output)
		if damage != nil && !l.cursorRect.Empty() {
			damage = append(damage, l.cursorRect)
		}
	}
	l.rendered = true

	return core.Frame{
		Image:          l.frame,
		Time:           now,
		Damage:         damage,
		CursorIncluded: l.cursor != nil,
	}
}

func paintBackground(img *image.RGBA) {
	paintBackgroundRect(img, img.Bounds())
}

// paintBackgroundRect fills r with a diagonal gradient that depends only on
// pixel position, so any region can be repainted on its own.
func paintBackgroundRect(img *image.RGBA, r image.Rectangle) {
	b := img.Bounds()
	r = r.Intersect(b)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(b.Dx(), 1)),
				G: uint8(y * 255 / max(b.Dy(), 1)),
				B: 0x60,
				A: 0xff,
			})
		}
	}
}
