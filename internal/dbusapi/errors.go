package dbusapi

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screencastd/internal/apis"
	"go2tv.app/screencastd/internal/core"
)

const (
	ErrorNotFound          = apis.ErrorBaseName + ".NotFound"
	ErrorInvalidState      = apis.ErrorBaseName + ".InvalidState"
	ErrorInvalidArgument   = apis.ErrorBaseName + ".InvalidArgument"
	ErrorNegotiationFailed = apis.ErrorBaseName + ".NegotiationFailed"
	ErrorResourceExhausted = apis.ErrorBaseName + ".ResourceExhausted"

	errorFailed       = "org.freedesktop.DBus.Error.Failed"
	errorAccessDenied = "org.freedesktop.DBus.Error.AccessDenied"
)

var errorNames = []struct {
	err  error
	name string
}{
	{core.ErrNotFound, ErrorNotFound},
	{core.ErrInvalidState, ErrorInvalidState},
	{core.ErrInvalidArgument, ErrorInvalidArgument},
	{core.ErrNegotiationFailed, ErrorNegotiationFailed},
	{core.ErrResourceExhausted, ErrorResourceExhausted},
}

// dbusError maps a core error onto the bus error returned to the caller.
func dbusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := errorFailed
	for _, e := range errorNames {
		if errors.Is(err, e.err) {
			name = e.name
			break
		}
	}
	return dbus.NewError(name, []any{err.Error()})
}

func accessDenied() *dbus.Error {
	return dbus.NewError(errorAccessDenied, []any{"session belongs to another client"})
}
