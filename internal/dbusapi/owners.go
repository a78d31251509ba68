package dbusapi

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screencastd/internal/apis"
)

const (
	busInterface          = "org.freedesktop.DBus"
	busPath               = "/org/freedesktop/DBus"
	nameOwnerChanged      = "NameOwnerChanged"
	nameOwnerChangedField = busInterface + "." + nameOwnerChanged
)

// WatchOwners stops the sessions of any client that leaves the bus. It
// returns once the subscription is in place and keeps watching until ctx is
// done.
func (s *Server) WatchOwners(ctx context.Context, conn *dbus.Conn) error {
	signals, err := apis.ListenOnSignal(conn, busPath, busInterface, nameOwnerChanged)
	if err != nil {
		return err
	}

	go func() {
		defer conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				s.handleSignal(sig)
			}
		}
	}()
	return nil
}

func (s *Server) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != nameOwnerChangedField || len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	// Unique names are never reassigned, so an empty new owner means the
	// client is gone for good.
	if name == "" || name != oldOwner || newOwner != "" {
		return
	}
	if err := s.svc.CloseClient(name); err != nil {
		s.log.Warn("closing sessions of departed client", slog.String("client", name), slog.String("error", err.Error()))
	}
	s.retireOwner(name)
}
