// Package core implements the screen-cast pipeline: sessions and streams,
// the per-stream buffer pool, frame pacing and cursor compositing.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go2tv.app/screencastd/internal/pipewire"
)

const (
	DefaultBufferCount = 3
	DefaultCloseGrace  = 500 * time.Millisecond
)

type Config struct {
	// MaxSessions limits concurrent sessions. Zero means unlimited.
	MaxSessions int
	// MaxStreamsPerSession limits streams per session. Zero means unlimited.
	MaxStreamsPerSession int
	BufferCount          int
	MaxFPS               uint32
	CloseGrace           time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferCount <= 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.MaxFPS == 0 || c.MaxFPS > MaxFPS {
		c.MaxFPS = MaxFPS
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	return c
}

// Deps are the collaborators the service runs against.
type Deps struct {
	Outputs   OutputRegistry
	Transport pipewire.Transport
	// Cursor may be nil, in which case embedded cursors draw nothing.
	Cursor  CursorSource
	Logger  *slog.Logger
	Metrics Metrics
}

// Service is the root screen-cast object: it lists outputs, creates
// sessions and routes renderer frames to active streams.
type Service struct {
	cfg       Config
	outputs   OutputRegistry
	transport pipewire.Transport
	cursor    *CursorCompositor
	metrics   Metrics
	log       *slog.Logger
	router    *router

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(cfg Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	var cursor *CursorCompositor
	if deps.Cursor != nil {
		cursor = NewCursorCompositor(deps.Cursor)
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		outputs:   deps.Outputs,
		transport: deps.Transport,
		cursor:    cursor,
		metrics:   m,
		log:       log,
		router:    newRouter(),
		sessions:  make(map[string]*Session),
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ListOutputs returns the names of outputs available for capture.
func (svc *Service) ListOutputs() []string {
	outs := svc.outputs.Outputs()
	names := make([]string, 0, len(outs))
	for _, o := range outs {
		names = append(names, o.Name)
	}
	return names
}

// CreateSession registers a new session owned by owner.
func (svc *Service) CreateSession(owner string, opts SessionOptions) (*Session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.cfg.MaxSessions > 0 && len(svc.sessions) >= svc.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: %d sessions already active", ErrResourceExhausted, len(svc.sessions))
	}

	s := &Session{
		id:    newID(),
		owner: owner,
		opts:  opts,
		svc:   svc,
		done:  make(chan struct{}),
	}
	s.log = svc.log.With(slog.String("session", s.id), slog.String("owner", owner))
	svc.sessions[s.id] = s
	svc.metrics.SetActiveSessions(len(svc.sessions))
	s.log.Info("session created", slog.Bool("recording", opts.IsRecording))
	return s, nil
}

// Session looks up a live session.
func (svc *Service) Session(id string) (*Session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	s, ok := svc.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s, nil
}

// Sessions returns every live session.
func (svc *Service) Sessions() []*Session {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]*Session, 0, len(svc.sessions))
	for _, s := range svc.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.id, b.id) })
	return out
}

func (svc *Service) forget(s *Session) {
	svc.mu.Lock()
	delete(svc.sessions, s.id)
	n := len(svc.sessions)
	svc.mu.Unlock()
	svc.metrics.SetActiveSessions(n)
	svc.updateStreamGauge()
}

func (svc *Service) updateStreamGauge() {
	svc.metrics.SetActiveStreams(svc.router.len())
}

// CloseClient stops every session owned by owner, as on disconnect.
func (svc *Service) CloseClient(owner string) error {
	var errs []error
	for _, s := range svc.Sessions() {
		if s.owner == owner {
			s.log.Info("owner disconnected, stopping session")
			errs = append(errs, s.Stop())
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops every session.
func (svc *Service) Shutdown() error {
	var errs []error
	for _, s := range svc.Sessions() {
		errs = append(errs, s.Stop())
	}
	return errors.Join(errs...)
}

// OnFrame is the renderer hand-off. It runs on the output's render thread and
// ticks every stream bound to output in attach order.
func (svc *Service) OnFrame(output string, frame Frame) {
	for _, st := range svc.router.streams(output) {
		st.publisher.Tick(frame)
	}
}
