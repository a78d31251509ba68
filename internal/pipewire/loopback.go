package pipewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

const firstNodeID = 40

// LoopbackOptions configures what the simulated consumer side accepts.
type LoopbackOptions struct {
	// Formats accepted by consumers. Empty accepts every known format.
	Formats   []PixelFormat
	MaxWidth  int
	MaxHeight int
}

// Loopback is an in-process Transport. Nodes deliver buffers to at most one
// attached Consumer; with no consumer attached a queued buffer is recycled
// immediately, the way a graph with an idle sink would.
type Loopback struct {
	opts LoopbackOptions
	log  *slog.Logger

	mu      sync.Mutex
	nextID  uint32
	nodes   map[uint32]*loopbackNode
	remotes map[*Remote]struct{}
	closed  bool
}

func NewLoopback(opts LoopbackOptions, log *slog.Logger) *Loopback {
	if len(opts.Formats) == 0 {
		opts.Formats = []PixelFormat{FormatBGRx, FormatBGRA, FormatRGBx, FormatRGBA}
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = MaxHeight
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loopback{
		opts:    opts,
		log:     log.With(slog.String("component", "pipewire")),
		nextID:  firstNodeID,
		nodes:   make(map[uint32]*loopbackNode),
		remotes: make(map[*Remote]struct{}),
	}
}

func (l *Loopback) negotiate(params NodeParams) (Format, error) {
	if params.Width <= 0 || params.Height <= 0 {
		return Format{}, fmt.Errorf("%w: invalid size %dx%d", ErrNegotiation, params.Width, params.Height)
	}
	if params.Width > l.opts.MaxWidth || params.Height > l.opts.MaxHeight {
		return Format{}, fmt.Errorf("%w: size %dx%d exceeds %dx%d",
			ErrNegotiation, params.Width, params.Height, l.opts.MaxWidth, l.opts.MaxHeight)
	}
	if params.BufferCount <= 0 {
		return Format{}, fmt.Errorf("%w: buffer count must be positive", ErrNegotiation)
	}
	for _, f := range params.Formats {
		if slices.Contains(l.opts.Formats, f) {
			return Format{
				PixelFormat: f,
				Width:       params.Width,
				Height:      params.Height,
				Stride:      params.Width * 4,
				Framerate:   params.Framerate,
			}, nil
		}
	}
	return Format{}, fmt.Errorf("%w: no common pixel format (offered %v, accepted %v)",
		ErrNegotiation, params.Formats, l.opts.Formats)
}

func (l *Loopback) CreateNode(ctx context.Context, params NodeParams) (Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, err := l.negotiate(params)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrTransportClose
	}

	n := &loopbackNode{
		id:        l.nextID,
		format:    format,
		onReturn:  params.OnBufferReturned,
		returns:   make(chan int, params.BufferCount*2),
		done:      make(chan struct{}),
		transport: l,
		log:       l.log.With(slog.Uint64("node", uint64(l.nextID)), slog.String("name", params.Name)),
	}
	l.nextID++
	l.nodes[n.id] = n

	n.wg.Add(1)
	go n.loop()

	n.log.Debug("node created",
		slog.String("format", format.PixelFormat.String()),
		slog.Int("width", format.Width),
		slog.Int("height", format.Height),
		slog.Uint64("framerate", uint64(format.Framerate)),
	)
	return n, nil
}

// Connect attaches a consumer to nodeID.
func (l *Loopback) Connect(nodeID uint32) (*Consumer, error) {
	l.mu.Lock()
	n, ok := l.nodes[nodeID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, nodeID)
	}
	return n.connect()
}

// Nodes returns the ids of live nodes.
func (l *Loopback) Nodes() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]uint32, 0, len(l.nodes))
	for id := range l.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (l *Loopback) forget(id uint32) {
	l.mu.Lock()
	delete(l.nodes, id)
	l.mu.Unlock()
}

// OpenRemotes reports how many remote handles are still open.
func (l *Loopback) OpenRemotes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.remotes)
}

func (l *Loopback) releaseRemote(r *Remote) {
	l.mu.Lock()
	delete(l.remotes, r)
	l.mu.Unlock()
}

// Close destroys every node and closes every remote handle still open.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	nodes := make([]*loopbackNode, 0, len(l.nodes))
	for _, n := range l.nodes {
		nodes = append(nodes, n)
	}
	remotes := make([]*Remote, 0, len(l.remotes))
	for r := range l.remotes {
		remotes = append(remotes, r)
	}
	l.mu.Unlock()

	var errs []error
	for _, n := range nodes {
		errs = append(errs, n.Destroy())
	}
	for _, r := range remotes {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

type loopbackNode struct {
	id        uint32
	format    Format
	onReturn  func(id int)
	transport *Loopback
	log       *slog.Logger

	mu        sync.Mutex
	consumer  *Consumer
	destroyed bool

	returns chan int
	done    chan struct{}
	wg      sync.WaitGroup
}

func (n *loopbackNode) ID() uint32     { return n.id }
func (n *loopbackNode) Format() Format { return n.format }

func (n *loopbackNode) Queue(buf Buffer) error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrNodeDestroyed
	}
	c := n.consumer
	n.mu.Unlock()

	if c == nil || !c.queue.Enqueue(buf) {
		n.giveBack(buf.ID)
	}
	return nil
}

// giveBack schedules a return notification on the node's event loop.
func (n *loopbackNode) giveBack(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return
	}
	select {
	case n.returns <- id:
	default:
		n.log.Warn("return queue full, buffer return lost", slog.Int("buffer", id))
	}
}

func (n *loopbackNode) loop() {
	defer n.wg.Done()
	for {
		select {
		case id := <-n.returns:
			n.dispatch(id)
		case <-n.done:
			for {
				select {
				case id := <-n.returns:
					n.dispatch(id)
				default:
					return
				}
			}
		}
	}
}

func (n *loopbackNode) dispatch(id int) {
	if n.onReturn != nil {
		n.onReturn(id)
	}
}

func (n *loopbackNode) connect() (*Consumer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return nil, ErrNodeDestroyed
	}
	if n.consumer != nil {
		return nil, ErrAlreadyBound
	}
	c := &Consumer{node: n}
	c.queue = newDeliveryQueue(n.id, cap(n.returns), n.log, n.giveBack)
	n.consumer = c
	return c, nil
}

func (n *loopbackNode) disconnect(c *Consumer) {
	n.mu.Lock()
	if n.consumer == c {
		n.consumer = nil
	}
	n.mu.Unlock()
	c.queue.Close()
}

func (n *loopbackNode) Destroy() error {
	n.mu.Lock()
	c := n.consumer
	n.mu.Unlock()
	if c != nil {
		n.disconnect(c)
	}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return nil
	}
	n.destroyed = true
	close(n.done)
	n.mu.Unlock()

	n.wg.Wait()
	n.transport.forget(n.id)
	n.log.Debug("node destroyed")
	return nil
}

// Consumer is the reading side of a loopback node.
type Consumer struct {
	node  *loopbackNode
	queue *deliveryQueue
}

func (c *Consumer) NodeID() uint32 { return c.node.id }

// Receive blocks until a buffer is delivered, the consumer is disconnected or
// ctx is done.
func (c *Consumer) Receive(ctx context.Context) (Buffer, error) {
	select {
	case buf := <-c.queue.queue:
		return buf, nil
	case <-c.queue.done:
		return Buffer{}, ErrNodeDestroyed
	case <-ctx.Done():
		return Buffer{}, ctx.Err()
	}
}

// Return hands buffer id back to the producer.
func (c *Consumer) Return(id int) {
	c.node.giveBack(id)
}

// Dropped reports how many buffers were evicted from this consumer's queue.
func (c *Consumer) Dropped() uint64 {
	return c.queue.dropped.Load()
}

// Disconnect detaches the consumer; undelivered buffers go back to the
// producer.
func (c *Consumer) Disconnect() {
	c.node.disconnect(c)
}
