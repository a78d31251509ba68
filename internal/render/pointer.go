package render

import (
	"image"
	"image/color"
	"sync"

	"go2tv.app/screencastd/internal/core"
)

// Pointer is the cursor manager: it tracks the global pointer position and
// image. It satisfies core.CursorSource.
type Pointer struct {
	mu    sync.RWMutex
	state core.CursorState
}

func NewPointer() *Pointer {
	return &Pointer{state: core.CursorState{
		Visible: true,
		Image:   ArrowCursor(),
		Layer:   core.TopLayer,
	}}
}

func (p *Pointer) Cursor() core.CursorState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pointer) MoveTo(x, y float64) {
	p.mu.Lock()
	p.state.X, p.state.Y = x, y
	p.mu.Unlock()
}

func (p *Pointer) SetVisible(visible bool) {
	p.mu.Lock()
	p.state.Visible = visible
	p.mu.Unlock()
}

func (p *Pointer) SetImage(img core.CursorImage) {
	p.mu.Lock()
	p.state.Image = img
	p.mu.Unlock()
}

// ArrowCursor draws a 12x19 arrow with its hotspot at the tip.
func ArrowCursor() core.CursorImage {
	const w, h = 12, 19
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	black := color.RGBA{A: 0xff}
	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for y := 0; y < h; y++ {
		width := y
		if y > 12 {
			width = 12 - (y-12)*2
		}
		for x := 0; x <= width && x < w; x++ {
			c := white
			if x == 0 || x == width || y == h-1 {
				c = black
			}
			img.SetRGBA(x, y, c)
		}
	}
	return core.CursorImage{Image: img, Scale: 1}
}
