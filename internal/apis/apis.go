package apis

import (
	"os"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	BusName           = "org.screencastd.ScreenCast"
	ObjectPath        = "/org/screencastd/ScreenCast"
	CallBaseName      = "org.screencastd"
	PropertiesGetName = "org.freedesktop.DBus.Properties.Get"

	ScreenCastInterface = CallBaseName + ".ScreenCast"
	SessionInterface    = ScreenCastInterface + ".Session"
	StreamInterface     = ScreenCastInterface + ".Stream"
	ErrorBaseName       = ScreenCastInterface + ".Error"

	SessionPathPrefix = ObjectPath + "/Session/"
	StreamPathPrefix  = ObjectPath + "/Stream/"

	ClosedMember = "Closed"
)

const (
	SessionBus = "session"
	SystemBus  = "system"
)

// BusKind normalizes a bus selector to SystemBus or SessionBus. Anything other
// than "system" selects the session bus.
func BusKind(name string) string {
	if strings.EqualFold(strings.TrimSpace(name), SystemBus) {
		return SystemBus
	}
	return SessionBus
}

// Bus returns the shared connection to the bus selected by SCREENCAST_BUS.
func Bus() (*dbus.Conn, error) {
	if BusKind(os.Getenv("SCREENCAST_BUS")) == SystemBus {
		return dbus.SystemBus()
	}
	return dbus.SessionBus()
}

// Dial opens a private connection to the given bus kind. The caller closes
// it.
func Dial(kind string) (*dbus.Conn, error) {
	if BusKind(kind) == SystemBus {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

func Call(callName string, args ...any) (any, error) {
	call, err := callOnObject(ObjectPath, callName, args...)
	if err != nil {
		return nil, err
	}

	var result any
	err = call.Store(&result)
	return result, err
}

// CallOnObjectStore calls callName on path and stores the reply in out.
func CallOnObjectStore(path dbus.ObjectPath, callName string, out any, args ...any) error {
	call, err := callOnObject(path, callName, args...)
	if err != nil {
		return err
	}
	return call.Store(out)
}

func CallOnObject(path dbus.ObjectPath, callName string, args ...any) error {
	_, err := callOnObject(path, callName, args...)
	return err
}

func callOnObject(path dbus.ObjectPath, callName string, args ...any) (*dbus.Call, error) {
	conn, err := Bus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object(BusName, path)
	call := obj.Call(callName, 0, args...)
	return call, call.Err
}

func GetProperty(path dbus.ObjectPath, interfaceName, property string) (any, error) {
	conn, err := Bus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object(BusName, path)
	call := obj.Call(PropertiesGetName, 0, interfaceName, property)
	if call.Err != nil {
		return nil, call.Err
	}

	var value any
	err = call.Store(&value)
	return value, err
}

// ListenOnSignal subscribes conn to signalName on iface emitted at path. An
// empty path matches every object.
func ListenOnSignal(conn *dbus.Conn, path dbus.ObjectPath, iface, signalName string) (chan *dbus.Signal, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(signalName),
	}
	if path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(path))
	}
	if err := conn.AddMatchSignal(opts...); err != nil {
		return nil, err
	}

	signal := make(chan *dbus.Signal, 16)
	conn.Signal(signal)
	return signal, nil
}
