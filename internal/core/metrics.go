package core

// Metrics receives counters from the capture pipeline. Implementations must be
// safe for concurrent use and must not block.
type Metrics interface {
	FramePublished(output string)
	FrameDropped(output string)
	FrameSkipped(output string)
	SetActiveSessions(n int)
	SetActiveStreams(n int)
}

type nopMetrics struct{}

func (nopMetrics) FramePublished(string) {}
func (nopMetrics) FrameDropped(string)   {}
func (nopMetrics) FrameSkipped(string)   {}
func (nopMetrics) SetActiveSessions(int) {}
func (nopMetrics) SetActiveStreams(int)  {}
