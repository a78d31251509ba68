package core

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"go2tv.app/screencastd/internal/pipewire"
)

// producerFormats are the layouts buffers are written in, most preferred
// first. Buffers are image.RGBA, so only RGB-ordered formats qualify.
var producerFormats = []pipewire.PixelFormat{pipewire.FormatRGBA, pipewire.FormatRGBx}

// StreamMetadata is what protocol clients see about a stream.
type StreamMetadata struct {
	Output       string
	Format       pipewire.PixelFormat
	Width        int
	Height       int
	Position     image.Point
	CursorMode   CursorMode
	EffectiveFPS uint32
	NodeID       uint32
	BufferCount  int
}

// Stream bridges one output to one transport node.
type Stream struct {
	id        string
	output    Output
	opts      StreamOptions
	node      pipewire.Node
	pool      *BufferPool
	publisher *FramePublisher
	log       *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (svc *Service) newStream(ctx context.Context, out Output, opts StreamOptions, log *slog.Logger) (*Stream, error) {
	s := &Stream{
		id:     newID(),
		output: out,
		opts:   opts,
	}
	s.log = log.With(slog.String("stream", s.id), slog.String("output", out.Name))

	fps := EffectiveFPS(out.Mode.RefreshMilliHz, opts.Framerate, svc.cfg.MaxFPS)
	node, err := svc.transport.CreateNode(ctx, pipewire.NodeParams{
		Name:             "screencast-" + out.Name,
		Width:            out.Mode.Width,
		Height:           out.Mode.Height,
		Formats:          producerFormats,
		Framerate:        fps,
		BufferCount:      svc.cfg.BufferCount,
		OnBufferReturned: s.bufferReturned,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: output %s: %v", ErrNegotiationFailed, out.Name, err)
	}
	s.node = node
	s.pool = NewBufferPool(svc.cfg.BufferCount, node.Format(), opts.CursorMode == CursorModeEmbedded)
	s.publisher = &FramePublisher{
		output:     out,
		cursorMode: opts.CursorMode,
		cursor:     svc.cursor,
		pool:       s.pool,
		node:       node,
		metrics:    svc.metrics,
		log:        s.log,
		clock:      NewFrameClock(fps),
	}

	s.log.Info("stream created",
		slog.Uint64("node", uint64(node.ID())),
		slog.String("format", node.Format().PixelFormat.String()),
		slog.Uint64("fps", uint64(fps)),
		slog.String("cursor_mode", opts.CursorMode.String()),
	)
	return s, nil
}

// bufferReturned runs on the transport's event loop. It only flips the
// buffer's ownership tag.
func (s *Stream) bufferReturned(id int) {
	if err := s.pool.Release(id); err != nil {
		s.log.Debug("ignoring buffer return", slog.Int("buffer", id), slog.String("error", err.Error()))
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) OutputName() string { return s.output.Name }

func (s *Stream) NodeID() uint32 { return s.node.ID() }

func (s *Stream) Publisher() *FramePublisher { return s.publisher }

func (s *Stream) Metadata() StreamMetadata {
	f := s.node.Format()
	return StreamMetadata{
		Output:       s.output.Name,
		Format:       f.PixelFormat,
		Width:        f.Width,
		Height:       f.Height,
		Position:     s.output.Position,
		CursorMode:   s.opts.CursorMode,
		EffectiveFPS: s.publisher.clock.FPS(),
		NodeID:       s.node.ID(),
		BufferCount:  s.pool.Size(),
	}
}

func (s *Stream) Stats() PublisherStats {
	return s.publisher.Stats()
}

// close stops production, waits up to grace for the consumer to return its
// buffers and removes the transport node.
func (s *Stream) close(svc *Service) error {
	s.closeOnce.Do(func() {
		s.publisher.shutdown()
		svc.router.remove(s)
		if n := s.pool.Drain(svc.cfg.CloseGrace); n > 0 {
			s.log.Warn("reclaimed buffers not returned by consumer", slog.Int("buffers", n))
		}
		s.closeErr = s.node.Destroy()
		s.log.Info("stream closed", slog.Uint64("published", s.publisher.published.Load()),
			slog.Uint64("dropped", s.publisher.dropped.Load()))
	})
	return s.closeErr
}
