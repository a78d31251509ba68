package core

import "time"

// MaxFPS caps every stream regardless of the output refresh rate.
const MaxFPS = 60

// cadenceSlack lets a tick arriving a little before its deadline publish, so a
// 60Hz output feeding a 60fps stream does not lose frames to jitter.
const cadenceSlack = 2 * time.Millisecond

// FrameClock tracks publishing cadence and presentation timestamps for one
// stream. Sequence only moves on Advance, which follows a successful hand-off.
// Deadlines advance by whole intervals, independent of the tick phase, so an
// output refreshing faster than the cap still delivers the full framerate.
type FrameClock struct {
	fps       uint32
	start     time.Time
	sequence  uint64
	next      time.Time
	published bool
}

func NewFrameClock(fps uint32) *FrameClock {
	if fps == 0 {
		fps = MaxFPS
	}
	return &FrameClock{fps: fps}
}

func (c *FrameClock) FPS() uint32 { return c.fps }

func (c *FrameClock) Sequence() uint64 { return c.sequence }

func (c *FrameClock) Start() time.Time { return c.start }

func (c *FrameClock) Interval() time.Duration {
	return time.Second / time.Duration(c.fps)
}

// Due reports whether the next frame deadline has been reached.
func (c *FrameClock) Due(now time.Time) bool {
	if !c.published {
		return true
	}
	return !now.Before(c.next.Add(-cadenceSlack))
}

// PTS returns the presentation timestamp, in nanoseconds, for the frame about
// to be published. The first call fixes the clock's start time to now.
func (c *FrameClock) PTS(now time.Time) int64 {
	if c.start.IsZero() {
		c.start = now
	}
	return c.start.UnixNano() + int64(c.sequence)*int64(time.Second)/int64(c.fps)
}

// Advance records a successful publish at now and schedules the next
// deadline. A clock more than one interval behind re-anchors on now rather
// than bursting to catch up.
func (c *FrameClock) Advance(now time.Time) {
	c.sequence++
	interval := c.Interval()
	if !c.published || now.Sub(c.next) >= interval {
		c.next = now.Add(interval)
	} else {
		c.next = c.next.Add(interval)
	}
	c.published = true
}
