// Package dbusapi exports the screen-cast service on the message bus: the
// root ScreenCast object, one Session object per session and one Stream
// object per stream.
package dbusapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"go2tv.app/screencastd/internal/apis"
	"go2tv.app/screencastd/internal/core"
)

const (
	introspectableInterface = "org.freedesktop.DBus.Introspectable"
	propertiesInterface     = "org.freedesktop.DBus.Properties"
)

// Conn is the part of *dbus.Conn the server exports objects through.
type Conn interface {
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// PropsExporter publishes read-only properties at path.
type PropsExporter func(path dbus.ObjectPath, props prop.Map) error

type Server struct {
	conn        Conn
	exportProps PropsExporter
	svc         *core.Service
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*sessionObject
}

// NewServer builds a server exporting through a live bus connection.
func NewServer(conn *dbus.Conn, svc *core.Service, log *slog.Logger) *Server {
	return newServer(conn, func(path dbus.ObjectPath, props prop.Map) error {
		_, err := prop.Export(conn, path, props)
		return err
	}, svc, log)
}

func newServer(conn Conn, exportProps PropsExporter, svc *core.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		conn:        conn,
		exportProps: exportProps,
		svc:         svc,
		log:         log.With(slog.String("component", "dbus")),
		sessions:    make(map[dbus.ObjectPath]*sessionObject),
	}
}

// Export publishes the root object.
func (s *Server) Export() error {
	root := &rootObject{srv: s}
	if err := s.conn.Export(root, apis.ObjectPath, apis.ScreenCastInterface); err != nil {
		return fmt.Errorf("export root: %w", err)
	}
	return s.introspect(apis.ObjectPath, introspect.Interface{
		Name:    apis.ScreenCastInterface,
		Methods: introspect.Methods(root),
	})
}

// Claim exports the root object and takes the well-known bus name.
func (s *Server) Claim(conn *dbus.Conn) error {
	if err := s.Export(); err != nil {
		return err
	}
	reply, err := conn.RequestName(apis.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", apis.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", apis.BusName)
	}
	s.log.Info("exported", slog.String("name", apis.BusName), slog.String("path", string(apis.ObjectPath)))
	return nil
}

func (s *Server) introspect(path dbus.ObjectPath, ifaces ...introspect.Interface) error {
	node := &introspect.Node{
		Name:       string(path),
		Interfaces: append([]introspect.Interface{introspect.IntrospectData}, ifaces...),
	}
	return s.conn.Export(introspect.NewIntrospectable(node), path, introspectableInterface)
}

func (s *Server) unexport(path dbus.ObjectPath, ifaces ...string) {
	for _, iface := range append(ifaces, introspectableInterface) {
		if err := s.conn.Export(nil, path, iface); err != nil {
			s.log.Debug("unexport failed", slog.String("path", string(path)), slog.String("error", err.Error()))
		}
	}
}

func (s *Server) session(path dbus.ObjectPath) (*sessionObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.sessions[path]
	return obj, ok
}

func (s *Server) addSession(sess *core.Session) (dbus.ObjectPath, error) {
	path := dbus.ObjectPath(apis.SessionPathPrefix + sess.ID())
	obj := &sessionObject{srv: s, sess: sess, path: path}
	if err := s.conn.Export(obj, path, apis.SessionInterface); err != nil {
		return "", err
	}
	err := s.introspect(path, introspect.Interface{
		Name:    apis.SessionInterface,
		Methods: introspect.Methods(obj),
		Signals: []introspect.Signal{{Name: apis.ClosedMember}},
	})
	if err != nil {
		s.unexport(path, apis.SessionInterface)
		return "", err
	}

	s.mu.Lock()
	s.sessions[path] = obj
	s.mu.Unlock()

	go func() {
		<-sess.Done()
		s.closeSession(obj)
	}()
	return path, nil
}

// closeSession unexports the streams of a stopped session and announces the
// closure. The session object itself stays exported so further calls get
// InvalidState, and a repeated Stop still succeeds.
func (s *Server) closeSession(obj *sessionObject) {
	obj.mu.Lock()
	if obj.closed {
		obj.mu.Unlock()
		return
	}
	obj.closed = true
	streams := obj.streams
	obj.streams = nil
	obj.mu.Unlock()

	for _, path := range streams {
		s.unexport(path, apis.StreamInterface, propertiesInterface)
	}
	if err := s.conn.Emit(obj.path, apis.SessionInterface+"."+apis.ClosedMember); err != nil {
		s.log.Warn("emit closed failed", slog.String("session", obj.sess.ID()), slog.String("error", err.Error()))
	}
}

// retire drops a session object from the bus for good.
func (s *Server) retire(obj *sessionObject) {
	s.closeSession(obj)
	s.unexport(obj.path, apis.SessionInterface)

	s.mu.Lock()
	delete(s.sessions, obj.path)
	s.mu.Unlock()
}

// retireOwner drops every session object created by owner, stopped or not.
func (s *Server) retireOwner(owner string) {
	for _, obj := range s.sessionsMatching(func(obj *sessionObject) bool { return obj.sess.Owner() == owner }) {
		s.retire(obj)
	}
}

// Shutdown drops every remaining session object. Sessions must already be
// stopped through the core service.
func (s *Server) Shutdown() {
	for _, obj := range s.sessionsMatching(func(*sessionObject) bool { return true }) {
		s.retire(obj)
	}
}

func (s *Server) sessionsMatching(match func(*sessionObject) bool) []*sessionObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*sessionObject
	for _, obj := range s.sessions {
		if match(obj) {
			out = append(out, obj)
		}
	}
	return out
}

func (s *Server) exportStream(st *core.Stream) (dbus.ObjectPath, error) {
	path := dbus.ObjectPath(apis.StreamPathPrefix + st.ID())
	md := st.Metadata()
	props := prop.Map{
		apis.StreamInterface: {
			"PipeWireNode": {Value: md.NodeID, Emit: prop.EmitConst},
			"Metadata":     {Value: metadata(md), Emit: prop.EmitConst},
		},
	}
	err := s.exportProps(path, props)
	if err == nil {
		err = s.conn.Export(&streamObject{}, path, apis.StreamInterface)
	}
	if err == nil {
		err = s.introspect(path, prop.IntrospectData, introspect.Interface{
			Name:       apis.StreamInterface,
			Properties: propertyIntrospection(props[apis.StreamInterface]),
		})
	}
	if err != nil {
		s.unexport(path, apis.StreamInterface, propertiesInterface)
		return "", err
	}
	return path, nil
}

func propertyIntrospection(props map[string]*prop.Prop) []introspect.Property {
	out := make([]introspect.Property, 0, len(props))
	for name, p := range props {
		out = append(out, introspect.Property{
			Name:   name,
			Type:   dbus.SignatureOf(p.Value).String(),
			Access: "read",
		})
	}
	return out
}

type rootObject struct {
	srv *Server
}

func (r *rootObject) ListOutputs() ([]string, *dbus.Error) {
	return r.srv.svc.ListOutputs(), nil
}

func (r *rootObject) CreateSession(sender dbus.Sender, options map[string]dbus.Variant) (dbus.ObjectPath, *dbus.Error) {
	opts, err := sessionOptions(options)
	if err != nil {
		return "", dbusError(err)
	}
	sess, err := r.srv.svc.CreateSession(string(sender), opts)
	if err != nil {
		return "", dbusError(err)
	}
	path, err := r.srv.addSession(sess)
	if err != nil {
		_ = sess.Stop()
		return "", dbusError(err)
	}
	return path, nil
}

type sessionObject struct {
	srv  *Server
	sess *core.Session
	path dbus.ObjectPath

	mu      sync.Mutex
	closed  bool
	streams []dbus.ObjectPath
}

func (o *sessionObject) authorize(sender dbus.Sender) *dbus.Error {
	if string(sender) != o.sess.Owner() {
		o.srv.log.Warn("rejected call from non-owner",
			slog.String("session", o.sess.ID()), slog.String("sender", string(sender)))
		return accessDenied()
	}
	return nil
}

func (o *sessionObject) RecordMonitor(sender dbus.Sender, output string, options map[string]dbus.Variant) (dbus.ObjectPath, *dbus.Error) {
	if derr := o.authorize(sender); derr != nil {
		return "", derr
	}
	opts, err := streamOptions(options)
	if err != nil {
		return "", dbusError(err)
	}
	st, err := o.sess.RecordMonitor(context.Background(), output, opts)
	if err != nil {
		return "", dbusError(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", dbusError(fmt.Errorf("%w: session %s stopped", core.ErrInvalidState, o.sess.ID()))
	}
	path, err := o.srv.exportStream(st)
	if err != nil {
		if cerr := o.sess.CloseStream(st); cerr != nil {
			o.srv.log.Warn("closing unexported stream failed", slog.String("error", cerr.Error()))
		}
		return "", dbusError(err)
	}
	o.streams = append(o.streams, path)
	return path, nil
}

func (o *sessionObject) Start(sender dbus.Sender) *dbus.Error {
	if derr := o.authorize(sender); derr != nil {
		return derr
	}
	return dbusError(o.sess.Start())
}

func (o *sessionObject) Stop(sender dbus.Sender) *dbus.Error {
	if derr := o.authorize(sender); derr != nil {
		return derr
	}
	return dbusError(o.sess.Stop())
}

func (o *sessionObject) OpenPipeWireRemote(sender dbus.Sender, options map[string]dbus.Variant) (dbus.UnixFD, *dbus.Error) {
	if derr := o.authorize(sender); derr != nil {
		return -1, derr
	}
	f, err := o.sess.OpenPipeWireRemote()
	if err != nil {
		return -1, dbusError(err)
	}
	return dbus.UnixFD(f.Fd()), nil
}

// streamObject carries no methods; streams are read through properties.
type streamObject struct{}
