package dbusapi

import (
	"fmt"
	"image"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screencastd/internal/convert"
	"go2tv.app/screencastd/internal/core"
)

// Option keys understood on the wire. Unknown keys are ignored so newer
// clients keep working.
const (
	optionIsRecording = "is-recording"
	optionCursorMode  = "cursor_mode"
	optionFramerate   = "framerate"
)

func sessionOptions(options map[string]dbus.Variant) (core.SessionOptions, error) {
	var opts core.SessionOptions
	if v, ok := options[optionIsRecording]; ok {
		b, err := convert.ToBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s: %v", core.ErrInvalidArgument, optionIsRecording, err)
		}
		opts.IsRecording = b
	}
	return opts, nil
}

func streamOptions(options map[string]dbus.Variant) (core.StreamOptions, error) {
	opts := core.DefaultStreamOptions()
	if v, ok := options[optionCursorMode]; ok {
		mode, err := convert.ToUint32(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s: %v", core.ErrInvalidArgument, optionCursorMode, err)
		}
		opts.CursorMode = core.CursorMode(mode)
	}
	if v, ok := options[optionFramerate]; ok {
		fps, err := convert.ToUint32(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s: %v", core.ErrInvalidArgument, optionFramerate, err)
		}
		opts.Framerate = fps
	}
	return opts, opts.Validate()
}

func metadata(md core.StreamMetadata) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"output":        convert.FromString(md.Output),
		"format":        convert.FromString(md.Format.String()),
		"size":          convert.FromInt32Pair(int32(md.Width), int32(md.Height)),
		"position":      pointVariant(md.Position),
		"cursor_mode":   convert.FromUint32(uint32(md.CursorMode)),
		"effective_fps": convert.FromUint32(md.EffectiveFPS),
		"node_id":       convert.FromUint32(md.NodeID),
		"buffer_count":  convert.FromUint32(uint32(md.BufferCount)),
	}
}

func pointVariant(p image.Point) dbus.Variant {
	return convert.FromInt32Pair(int32(p.X), int32(p.Y))
}
