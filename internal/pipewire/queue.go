package pipewire

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// deliveryQueue hands buffers to one consumer without ever blocking the
// producer. When full it evicts the oldest entry and gives it straight back
// through evict so the producer's pool never loses a slot.
type deliveryQueue struct {
	nodeID uint32
	log    *slog.Logger
	evict  func(id int)

	queue chan Buffer
	done  chan struct{}

	closeOnce   sync.Once
	lastDropLog atomic.Int64
	dropped     atomic.Uint64
}

func newDeliveryQueue(nodeID uint32, size int, log *slog.Logger, evict func(id int)) *deliveryQueue {
	if size <= 0 {
		size = 1
	}
	return &deliveryQueue{
		nodeID: nodeID,
		log:    log,
		evict:  evict,
		queue:  make(chan Buffer, size),
		done:   make(chan struct{}),
	}
}

func (q *deliveryQueue) Enqueue(buf Buffer) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.queue <- buf:
		return true
	default:
	}

	select {
	case old := <-q.queue:
		q.noteDrop()
		q.evict(old.ID)
	default:
	}

	select {
	case q.queue <- buf:
		return true
	default:
		q.noteDrop()
		return false
	}
}

func (q *deliveryQueue) noteDrop() {
	total := q.dropped.Add(1)
	if ShouldLog(&q.lastDropLog, time.Second) {
		q.log.Debug("consumer queue full, evicted buffer",
			slog.Uint64("node", uint64(q.nodeID)),
			slog.Uint64("total", total),
			slog.Int("queue", len(q.queue)),
		)
	}
}

// Close stops delivery and returns every buffer still waiting in the queue.
func (q *deliveryQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		for {
			select {
			case buf := <-q.queue:
				q.evict(buf.ID)
			default:
				return
			}
		}
	})
}

// ShouldLog reports whether at least period has passed since the last time it
// returned true for last. Used to rate-limit per-frame log lines.
func ShouldLog(last *atomic.Int64, period time.Duration) bool {
	if last == nil || period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
