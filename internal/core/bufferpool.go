package core

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go2tv.app/screencastd/internal/pipewire"
)

var (
	errPoolExhausted = errors.New("no free buffer")
	errPoolClosed    = errors.New("buffer pool closed")
	errWriterBusy    = errors.New("a buffer is already being written")
)

// BufferState is the ownership tag of a pool slot.
type BufferState int

const (
	BufferFree BufferState = iota
	BufferWritePending
	BufferPublished
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferWritePending:
		return "write-pending"
	case BufferPublished:
		return "published"
	default:
		return "unknown"
	}
}

// Buffer is one slot of a BufferPool.
type Buffer struct {
	ID     int
	Image  *image.RGBA
	Depth  []uint8
	Format pipewire.Format

	Sequence uint64
	PTS      int64

	state BufferState
	// content bookkeeping for partial blits
	valid      bool
	tick       uint64
	cursorRect image.Rectangle
}

func (b *Buffer) State() BufferState { return b.state }

// PoolCounts is a snapshot of how many slots are in each state.
type PoolCounts struct {
	Free      int
	Pending   int
	Published int
}

// BufferPool is a fixed ring of reusable buffers. It never grows: when every
// buffer is held by the consumer, Acquire fails and the caller drops the
// frame.
type BufferPool struct {
	mu      sync.Mutex
	buffers []*Buffer
	free    []*Buffer
	pending *Buffer
	closed  bool
	drained chan struct{}
}

func NewBufferPool(size int, format pipewire.Format, withDepth bool) *BufferPool {
	p := &BufferPool{
		buffers: make([]*Buffer, size),
		free:    make([]*Buffer, 0, size),
		drained: make(chan struct{}),
	}
	rect := image.Rect(0, 0, format.Width, format.Height)
	for i := range p.buffers {
		b := &Buffer{ID: i, Image: image.NewRGBA(rect), Format: format}
		if withDepth {
			b.Depth = make([]uint8, format.Width*format.Height)
		}
		p.buffers[i] = b
		p.free = append(p.free, b)
	}
	return p
}

func (p *BufferPool) Size() int { return len(p.buffers) }

// Acquire hands out the least recently returned free buffer, now
// WritePending.
func (p *BufferPool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, errPoolClosed
	case p.pending != nil:
		return nil, errWriterBusy
	case len(p.free) == 0:
		return nil, errPoolExhausted
	}
	b := p.free[0]
	p.free = p.free[1:]
	b.state = BufferWritePending
	p.pending = b
	return b, nil
}

// Commit marks the pending buffer as handed to the consumer.
func (p *BufferPool) Commit(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != b || b.state != BufferWritePending {
		return fmt.Errorf("%w: buffer %d is %s, not write-pending", ErrInvalidState, b.ID, b.state)
	}
	b.state = BufferPublished
	p.pending = nil
	return nil
}

// Abort gives a pending buffer back without publishing it.
func (p *BufferPool) Abort(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != b {
		return
	}
	b.state = BufferFree
	b.valid = false
	p.pending = nil
	p.free = append(p.free, b)
}

// Release applies a consumer return: PublishedToConsumer back to Free.
func (p *BufferPool) Release(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.buffers) {
		return fmt.Errorf("%w: buffer %d", ErrNotFound, id)
	}
	b := p.buffers[id]
	if b.state != BufferPublished {
		return fmt.Errorf("%w: buffer %d is %s, not published", ErrInvalidState, id, b.state)
	}
	b.state = BufferFree
	p.free = append(p.free, b)
	p.checkDrainedLocked()
	return nil
}

func (p *BufferPool) Counts() PoolCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	var c PoolCounts
	for _, b := range p.buffers {
		switch b.state {
		case BufferFree:
			c.Free++
		case BufferWritePending:
			c.Pending++
		case BufferPublished:
			c.Published++
		}
	}
	return c
}

func (p *BufferPool) checkDrainedLocked() {
	if !p.closed || p.pending != nil {
		return
	}
	for _, b := range p.buffers {
		if b.state == BufferPublished {
			return
		}
	}
	select {
	case <-p.drained:
	default:
		close(p.drained)
	}
}

// Drain closes the pool to new writes and waits up to grace for the consumer
// to return every published buffer. Whatever is still out after grace is
// reclaimed by force; the count of such buffers is returned.
func (p *BufferPool) Drain(grace time.Duration) int {
	p.mu.Lock()
	p.closed = true
	p.checkDrainedLocked()
	p.mu.Unlock()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.drained:
		return 0
	case <-timer.C:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	reclaimed := 0
	for _, b := range p.buffers {
		if b.state != BufferFree {
			b.state = BufferFree
			b.valid = false
			p.free = append(p.free, b)
			reclaimed++
		}
	}
	p.pending = nil
	p.checkDrainedLocked()
	return reclaimed
}
