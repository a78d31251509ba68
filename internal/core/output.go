package core

import (
	"image"
	"math"
	"time"
)

// Mode is an output's native display mode.
type Mode struct {
	Width  int
	Height int
	// RefreshMilliHz is the refresh rate in mHz (60000 for 60Hz).
	RefreshMilliHz int
}

func (m Mode) RefreshHz() float64 {
	return float64(m.RefreshMilliHz) / 1000
}

// Output is a capturable display as described by the renderer.
type Output struct {
	Name     string
	Mode     Mode
	Scale    float64
	Position image.Point
	// HardwareCursor is true when the cursor lives on a dedicated plane and is
	// therefore absent from rendered frames.
	HardwareCursor bool
}

// OutputRegistry lists the outputs currently available for capture.
type OutputRegistry interface {
	Outputs() []Output
	Lookup(name string) (Output, bool)
}

// Frame is a finished output image handed over by the renderer once per
// refresh.
type Frame struct {
	Image *image.RGBA
	// Depth optionally holds, for each pixel of Image, the stacking layer of
	// the topmost surface drawn there. Row stride equals the image width.
	Depth []uint8
	// Time is the presentation time of this refresh. Zero means now.
	Time time.Time
	// Damage lists regions changed since the previous frame of this output.
	// Nil means unknown (everything changed).
	Damage []image.Rectangle
	// CursorIncluded is set when the cursor was already drawn into Image.
	CursorIncluded bool
}

// FrameSink receives frames from per-output render loops.
type FrameSink interface {
	OnFrame(output string, frame Frame)
}

// EffectiveFPS is the publishing rate for an output: its refresh rate rounded
// to whole frames, capped by limit and, when non-zero, by requested.
func EffectiveFPS(refreshMilliHz int, requested, limit uint32) uint32 {
	if limit == 0 || limit > MaxFPS {
		limit = MaxFPS
	}
	fps := uint32(math.Round(float64(refreshMilliHz) / 1000))
	if fps == 0 || fps > limit {
		fps = limit
	}
	if requested > 0 && requested < fps {
		fps = requested
	}
	return fps
}
