package core

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// TopLayer places the cursor above every surface.
const TopLayer = math.MaxUint8

// CursorImage is a cursor bitmap and its hotspot in bitmap pixels.
type CursorImage struct {
	Image   image.Image
	Hotspot image.Point
	// Scale is the buffer scale the bitmap was rendered at. Zero means 1.
	Scale float64
}

// CursorState is what the cursor manager reports for the current refresh.
type CursorState struct {
	Visible bool
	// X and Y are the pointer position in global logical coordinates.
	X, Y  float64
	Image CursorImage
	// Layer is the stacking layer the cursor is drawn at, compared against
	// frame depth.
	Layer uint8
}

// CursorSource is the cursor manager collaborator.
type CursorSource interface {
	Cursor() CursorState
}

// CursorCompositor draws the pointer into captured buffers for outputs whose
// cursor is on a hardware plane and thus missing from rendered frames.
//
// This intentionally repeats the geometry of the on-screen cursor pass
// instead of sharing it: the capture buffer and the screen have independent
// lifetimes.
type CursorCompositor struct {
	source CursorSource
}

func NewCursorCompositor(source CursorSource) *CursorCompositor {
	return &CursorCompositor{source: source}
}

// Placement returns where the cursor lands in output-local physical pixels,
// along with the size it is drawn at. ok is false when nothing should be drawn.
func (c *CursorCompositor) Placement(state CursorState, out Output, bounds image.Rectangle) (image.Rectangle, bool) {
	if !state.Visible || state.Image.Image == nil {
		return image.Rectangle{}, false
	}
	outScale := out.Scale
	if outScale <= 0 {
		outScale = 1
	}
	imgScale := state.Image.Scale
	if imgScale <= 0 {
		imgScale = 1
	}
	ratio := outScale / imgScale

	px := (state.X - float64(out.Position.X)) * outScale
	py := (state.Y - float64(out.Position.Y)) * outScale
	if !image.Pt(int(math.Floor(px)), int(math.Floor(py))).In(bounds) {
		return image.Rectangle{}, false
	}

	size := state.Image.Image.Bounds().Size()
	w := int(math.Round(float64(size.X) * ratio))
	h := int(math.Round(float64(size.Y) * ratio))
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, false
	}
	hx := float64(state.Image.Hotspot.X) * ratio
	hy := float64(state.Image.Hotspot.Y) * ratio
	origin := image.Pt(int(math.Round(px-hx)), int(math.Round(py-hy)))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))}, true
}

// Composite draws the current cursor into dst, honouring depth when given,
// and returns the rectangle it touched.
func (c *CursorCompositor) Composite(dst *image.RGBA, depth []uint8, out Output) image.Rectangle {
	if c == nil || c.source == nil {
		return image.Rectangle{}
	}
	state := c.source.Cursor()
	placed, ok := c.Placement(state, out, dst.Bounds())
	if !ok {
		return image.Rectangle{}
	}
	r := placed.Intersect(dst.Bounds())
	if r.Empty() {
		return image.Rectangle{}
	}

	src := state.Image.Image
	if src.Bounds().Size() != placed.Size() {
		scaled := image.NewRGBA(image.Rectangle{Max: placed.Size()})
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		src = scaled
	}
	sp := src.Bounds().Min.Add(r.Min.Sub(placed.Min))

	if depth == nil {
		draw.Draw(dst, r, src, sp, draw.Over)
		return r
	}

	mask := depthMask(depth, dst.Bounds(), r, state.Layer)
	draw.DrawMask(dst, r, src, sp, mask, r.Min, draw.Over)
	return r
}

// depthMask is opaque where layer is at or above the scene's topmost surface.
func depthMask(depth []uint8, bounds, r image.Rectangle, layer uint8) *image.Alpha {
	mask := image.NewAlpha(r)
	stride := bounds.Dx()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := (y - bounds.Min.Y) * stride
		for x := r.Min.X; x < r.Max.X; x++ {
			i := row + x - bounds.Min.X
			if i < len(depth) && depth[i] <= layer {
				mask.Pix[mask.PixOffset(x, y)] = 0xff
			}
		}
	}
	return mask
}
