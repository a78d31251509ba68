// Package pipewire describes the shared-memory streaming transport that carries
// captured frames to consumers, and provides an in-process loopback
// implementation of it.
package pipewire

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"
)

var (
	ErrNegotiation    = errors.New("format negotiation failed")
	ErrNodeDestroyed  = errors.New("pipewire node destroyed")
	ErrNodeNotFound   = errors.New("pipewire node not found")
	ErrAlreadyBound   = errors.New("pipewire node already has a consumer")
	ErrTransportClose = errors.New("pipewire transport closed")
)

// Maximum negotiable frame size, matching the SPA size range offered to peers.
const (
	MaxWidth  = 8192
	MaxHeight = 8192
)

// PixelFormat is a raw video format as named by SPA.
type PixelFormat uint32

const (
	FormatBGRx PixelFormat = iota + 1
	FormatBGRA
	FormatRGBx
	FormatRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRx:
		return "BGRx"
	case FormatBGRA:
		return "BGRA"
	case FormatRGBx:
		return "RGBx"
	case FormatRGBA:
		return "RGBA"
	default:
		return "unknown"
	}
}

// Format is the outcome of negotiation for a node.
type Format struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	Stride      int
	Framerate   uint32
}

// NodeParams is what the producer offers when creating a node.
type NodeParams struct {
	Name   string
	Width  int
	Height int
	// Formats lists the pixel layouts the producer can write, most preferred
	// first.
	Formats     []PixelFormat
	Framerate   uint32
	BufferCount int
	// OnBufferReturned is invoked from the transport's event loop once the
	// consumer hands a buffer back. It must not block.
	OnBufferReturned func(id int)
}

// Buffer is a filled buffer handed to the transport. Data aliases producer
// memory and stays untouched by the producer until the buffer is returned.
type Buffer struct {
	ID       int
	Sequence uint64
	// PTS is the presentation timestamp in nanoseconds.
	PTS    int64
	Format Format
	Data   []byte
	Damage []image.Rectangle
}

// Node is one published stream endpoint consumers bind to.
type Node interface {
	ID() uint32
	Format() Format
	// Queue hands a buffer to the consumer side without waiting for it.
	Queue(buf Buffer) error
	Destroy() error
}

// Transport creates nodes and remote handles.
type Transport interface {
	CreateNode(ctx context.Context, params NodeParams) (Node, error)
	// OpenRemote returns a fresh connection handle a client can use to reach
	// the transport out of band. The caller must Close it.
	OpenRemote() (*Remote, error)
}

// Remote is one out-of-band connection. File is the end handed to the client;
// the transport holds the other end until Close.
type Remote struct {
	File *os.File

	local   *os.File
	release func(*Remote)
	once    sync.Once
	err     error
}

// Close releases both ends of the connection. It is safe to call more than
// once.
func (r *Remote) Close() error {
	r.once.Do(func() {
		r.err = errors.Join(r.File.Close(), r.local.Close())
		if r.release != nil {
			r.release(r)
		}
	})
	return r.err
}
