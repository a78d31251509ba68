// Package outputs holds the set of capturable outputs and loads it from a
// TOML profile.
package outputs

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"

	"go2tv.app/screencastd/internal/core"
)

var ErrInvalidProfile = errors.New("invalid output profile")

// OutputConfig is one [[output]] table.
type OutputConfig struct {
	Name           string  `toml:"name"`
	Width          int     `toml:"width"`
	Height         int     `toml:"height"`
	RefreshHz      float64 `toml:"refresh_hz"`
	Scale          float64 `toml:"scale"`
	X              int     `toml:"x"`
	Y              int     `toml:"y"`
	HardwareCursor bool    `toml:"hardware_cursor"`
}

type Profile struct {
	Outputs []OutputConfig `toml:"output"`
}

// DefaultOutputs is used when no profile file exists.
func DefaultOutputs() []core.Output {
	return []core.Output{{
		Name:           "Virtual-1",
		Mode:           core.Mode{Width: 1920, Height: 1080, RefreshMilliHz: 60000},
		Scale:          1,
		HardwareCursor: true,
	}}
}

// Parse decodes and validates a profile. Unknown keys are rejected so typos
// do not silently drop settings.
func Parse(data []byte) ([]core.Output, error) {
	var p Profile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return p.outputs()
}

// Load reads the profile at path. A missing file yields DefaultOutputs.
func Load(path string) ([]core.Output, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultOutputs(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (p Profile) outputs() ([]core.Output, error) {
	if len(p.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs defined", ErrInvalidProfile)
	}
	seen := make(map[string]bool, len(p.Outputs))
	out := make([]core.Output, 0, len(p.Outputs))
	for i, c := range p.Outputs {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: output %d has no name", ErrInvalidProfile, i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate output %q", ErrInvalidProfile, c.Name)
		}
		seen[c.Name] = true
		if c.Width <= 0 || c.Height <= 0 {
			return nil, fmt.Errorf("%w: output %q has invalid size %dx%d", ErrInvalidProfile, c.Name, c.Width, c.Height)
		}
		if c.RefreshHz < 0 {
			return nil, fmt.Errorf("%w: output %q has negative refresh", ErrInvalidProfile, c.Name)
		}
		refresh := c.RefreshHz
		if refresh == 0 {
			refresh = 60
		}
		scale := c.Scale
		if scale < 0 {
			return nil, fmt.Errorf("%w: output %q has negative scale", ErrInvalidProfile, c.Name)
		}
		if scale == 0 {
			scale = 1
		}
		out = append(out, core.Output{
			Name:           c.Name,
			Mode:           core.Mode{Width: c.Width, Height: c.Height, RefreshMilliHz: int(math.Round(refresh * 1000))},
			Scale:          scale,
			Position:       image.Pt(c.X, c.Y),
			HardwareCursor: c.HardwareCursor,
		})
	}
	return out, nil
}
