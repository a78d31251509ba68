//go:build unix

package pipewire

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenRemote creates a connected socket pair. The peer end goes to the client
// and the local end stays with the transport until the remote is closed.
func (l *Loopback) OpenRemote() (*Remote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrTransportClose
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}

	r := &Remote{
		File:    os.NewFile(uintptr(fds[1]), "pipewire"),
		local:   os.NewFile(uintptr(fds[0]), "pipewire-local"),
		release: l.releaseRemote,
	}
	l.remotes[r] = struct{}{}
	return r, nil
}
