package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"go2tv.app/screencastd/internal/pipewire"
)

type SessionState int

const (
	SessionCreated SessionState = iota
	SessionStarted
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionStarted:
		return "started"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session is a client-owned capture context grouping streams under a single
// start/stop lifecycle.
type Session struct {
	id    string
	owner string
	opts  SessionOptions
	svc   *Service
	log   *slog.Logger

	mu      sync.Mutex
	state   SessionState
	streams []*Stream
	remotes []*pipewire.Remote
	done    chan struct{}
}

func (s *Session) ID() string { return s.id }

// Owner is the bus name of the client that created the session.
func (s *Session) Owner() string { return s.owner }

func (s *Session) Options() SessionOptions { return s.opts }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has stopped and its streams are torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Streams returns the attached streams in attach order.
func (s *Session) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// RecordMonitor attaches a new stream bound to output. On a started session
// the stream begins producing immediately.
func (s *Session) RecordMonitor(ctx context.Context, output string, opts StreamOptions) (*Stream, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return nil, fmt.Errorf("%w: session %s is stopped", ErrInvalidState, s.id)
	}
	if limit := s.svc.cfg.MaxStreamsPerSession; limit > 0 && len(s.streams) >= limit {
		return nil, fmt.Errorf("%w: session already has %d streams", ErrResourceExhausted, len(s.streams))
	}
	out, ok := s.svc.outputs.Lookup(output)
	if !ok {
		return nil, fmt.Errorf("%w: output %q", ErrNotFound, output)
	}

	st, err := s.svc.newStream(ctx, out, opts, s.log)
	if err != nil {
		return nil, err
	}
	s.streams = append(s.streams, st)
	s.svc.router.add(st)
	if s.state == SessionStarted {
		st.publisher.activate()
	}
	s.svc.updateStreamGauge()
	return st, nil
}

// CloseStream detaches and closes a single stream, leaving the rest of the
// session running.
func (s *Session) CloseStream(st *Stream) error {
	s.mu.Lock()
	i := slices.Index(s.streams, st)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: stream %s not in session %s", ErrNotFound, st.ID(), s.id)
	}
	s.streams = slices.Delete(s.streams, i, i+1)
	s.mu.Unlock()

	err := st.close(s.svc)
	s.svc.updateStreamGauge()
	return err
}

// Start begins production on every attached stream.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionCreated {
		return fmt.Errorf("%w: cannot start session in state %s", ErrInvalidState, s.state)
	}
	s.state = SessionStarted
	for _, st := range s.streams {
		st.publisher.activate()
	}
	s.log.Info("session started", slog.Int("streams", len(s.streams)))
	return nil
}

// OpenPipeWireRemote returns a fresh transport handle. The session keeps it
// open until it stops.
func (s *Session) OpenPipeWireRemote() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return nil, fmt.Errorf("%w: session %s is stopped", ErrInvalidState, s.id)
	}
	r, err := s.svc.transport.OpenRemote()
	if err != nil {
		return nil, err
	}
	s.remotes = append(s.remotes, r)
	return r.File, nil
}

// Stop tears down every stream and releases transport handles. Stopping a
// stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == SessionStopped {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.state = SessionStopped
	streams := s.streams
	remotes := s.remotes
	s.streams = nil
	s.remotes = nil
	s.mu.Unlock()

	errs := make([]error, len(streams))
	var wg sync.WaitGroup
	for i, st := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = st.close(s.svc)
		}()
	}
	wg.Wait()
	for _, r := range remotes {
		errs = append(errs, r.Close())
	}

	s.svc.forget(s)
	close(s.done)
	s.log.Info("session stopped", slog.Int("streams", len(streams)))
	return errors.Join(errs...)
}
