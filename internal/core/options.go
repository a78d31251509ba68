package core

import "fmt"

// CursorMode selects how the pointer appears in a stream. Values match the
// ScreenCast cursor_mode bitmask.
type CursorMode uint32

const (
	CursorModeHidden   CursorMode = 1
	CursorModeEmbedded CursorMode = 2
	// CursorModeMetadata is recognized but not implemented; requesting it is
	// rejected.
	CursorModeMetadata CursorMode = 4
)

func (m CursorMode) String() string {
	switch m {
	case CursorModeHidden:
		return "hidden"
	case CursorModeEmbedded:
		return "embedded"
	case CursorModeMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("cursor_mode(%d)", uint32(m))
	}
}

// Validate accepts only the implemented modes.
func (m CursorMode) Validate() error {
	switch m {
	case CursorModeHidden, CursorModeEmbedded:
		return nil
	case CursorModeMetadata:
		return fmt.Errorf("%w: cursor mode metadata is not supported", ErrInvalidArgument)
	default:
		return fmt.Errorf("%w: unknown cursor mode %d", ErrInvalidArgument, uint32(m))
	}
}

type SessionOptions struct {
	// IsRecording marks the session as a recording rather than a share, for
	// indicators.
	IsRecording bool
}

type StreamOptions struct {
	CursorMode CursorMode
	// Framerate lowers the framerate cap when non-zero.
	Framerate uint32
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{CursorMode: CursorModeEmbedded}
}

func (o StreamOptions) Validate() error {
	return o.CursorMode.Validate()
}
