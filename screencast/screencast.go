// Package screencast is a client for the screencastd bus API.
package screencast

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screencastd/internal/apis"
	"go2tv.app/screencastd/internal/convert"
)

const (
	listOutputsName        = apis.ScreenCastInterface + ".ListOutputs"
	createSessionName      = apis.ScreenCastInterface + ".CreateSession"
	recordMonitorName      = apis.SessionInterface + ".RecordMonitor"
	startName              = apis.SessionInterface + ".Start"
	stopName               = apis.SessionInterface + ".Stop"
	openPipeWireRemoteName = apis.SessionInterface + ".OpenPipeWireRemote"
)

const (
	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2
	CursorModeMetadata uint32 = 4
)

var ErrUnexpectedResponse = errors.New("unexpected response from screencastd")

func ListOutputs() ([]string, error) {
	result, err := apis.Call(listOutputsName)
	if err != nil {
		return nil, err
	}
	names, ok := result.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: ListOutputs returned %T", ErrUnexpectedResponse, result)
	}
	return names, nil
}

type Options struct {
	IsRecording bool
}

type Session struct {
	Path dbus.ObjectPath
}

func CreateSession(options *Options) (*Session, error) {
	data := map[string]dbus.Variant{}
	if options != nil && options.IsRecording {
		data["is-recording"] = convert.FromBool(true)
	}

	result, err := apis.Call(createSessionName, data)
	if err != nil {
		return nil, err
	}
	path, ok := result.(dbus.ObjectPath)
	if !ok {
		return nil, fmt.Errorf("%w: CreateSession returned %T", ErrUnexpectedResponse, result)
	}
	return &Session{Path: path}, nil
}

type RecordMonitorOptions struct {
	CursorMode uint32
	// Framerate lowers the stream's framerate cap when non-zero.
	Framerate uint32
}

func (s *Session) RecordMonitor(output string, options *RecordMonitorOptions) (*Stream, error) {
	data := map[string]dbus.Variant{}
	if options != nil {
		if options.CursorMode != 0 {
			data["cursor_mode"] = convert.FromUint32(options.CursorMode)
		}
		if options.Framerate != 0 {
			data["framerate"] = convert.FromUint32(options.Framerate)
		}
	}

	var path dbus.ObjectPath
	if err := apis.CallOnObjectStore(s.Path, recordMonitorName, &path, output, data); err != nil {
		return nil, err
	}
	return &Stream{Path: path}, nil
}

func (s *Session) Start() error {
	return apis.CallOnObject(s.Path, startName)
}

func (s *Session) Stop() error {
	return apis.CallOnObject(s.Path, stopName)
}

// OpenPipeWireRemote returns a file descriptor owned by the caller.
func (s *Session) OpenPipeWireRemote() (int, error) {
	var fd dbus.UnixFD
	err := apis.CallOnObjectStore(s.Path, openPipeWireRemoteName, &fd, map[string]dbus.Variant{})
	if err != nil {
		return -1, err
	}
	return int(fd), nil
}

func (s *Session) OpenPipeWireRemoteReader() (io.ReadCloser, error) {
	fd, err := s.OpenPipeWireRemote()
	if err != nil {
		return nil, err
	}

	return os.NewFile(uintptr(fd), "pipewire"), nil
}

// Closed returns a channel that receives once the session is closed by the
// service, for whatever reason.
func (s *Session) Closed() (<-chan struct{}, error) {
	conn, err := apis.Bus()
	if err != nil {
		return nil, err
	}
	signals, err := apis.ListenOnSignal(conn, s.Path, apis.SessionInterface, apis.ClosedMember)
	if err != nil {
		return nil, err
	}

	closed := make(chan struct{})
	go func() {
		defer conn.RemoveSignal(signals)
		for sig := range signals {
			if sig.Path == s.Path && sig.Name == apis.SessionInterface+"."+apis.ClosedMember {
				close(closed)
				return
			}
		}
	}()
	return closed, nil
}

type Stream struct {
	Path dbus.ObjectPath
}

func (st *Stream) PipeWireNode() (uint32, error) {
	value, err := apis.GetProperty(st.Path, apis.StreamInterface, "PipeWireNode")
	if err != nil {
		return 0, err
	}
	node, ok := value.(uint32)
	if !ok {
		return 0, fmt.Errorf("%w: PipeWireNode is %T", ErrUnexpectedResponse, value)
	}
	return node, nil
}

// Metadata describes a stream as reported by the service.
type Metadata struct {
	Output       string
	Format       string
	Size         [2]int32
	Position     [2]int32
	CursorMode   uint32
	EffectiveFPS uint32
	NodeID       uint32
	BufferCount  uint32
}

func (st *Stream) Metadata() (Metadata, error) {
	value, err := apis.GetProperty(st.Path, apis.StreamInterface, "Metadata")
	if err != nil {
		return Metadata{}, err
	}
	props, ok := value.(map[string]dbus.Variant)
	if !ok {
		return Metadata{}, fmt.Errorf("%w: Metadata is %T", ErrUnexpectedResponse, value)
	}
	return parseMetadata(props), nil
}

func parseMetadata(props map[string]dbus.Variant) Metadata {
	var md Metadata
	if v, ok := props["output"]; ok {
		md.Output, _ = convert.ToString(v)
	}
	if v, ok := props["format"]; ok {
		md.Format, _ = convert.ToString(v)
	}
	if v, ok := props["size"]; ok {
		if pair, ok := convert.ParseInt32Pair(v.Value()); ok {
			md.Size = pair
		}
	}
	if v, ok := props["position"]; ok {
		if pair, ok := convert.ParseInt32Pair(v.Value()); ok {
			md.Position = pair
		}
	}
	if v, ok := props["cursor_mode"]; ok {
		md.CursorMode, _ = convert.ToUint32(v)
	}
	if v, ok := props["effective_fps"]; ok {
		md.EffectiveFPS, _ = convert.ToUint32(v)
	}
	if v, ok := props["node_id"]; ok {
		md.NodeID, _ = convert.ToUint32(v)
	}
	if v, ok := props["buffer_count"]; ok {
		md.BufferCount, _ = convert.ToUint32(v)
	}
	return md
}
