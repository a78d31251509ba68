//go:build !unix

package pipewire

import "errors"

func (l *Loopback) OpenRemote() (*Remote, error) {
	return nil, errors.New("pipewire remotes are only available on unix")
}
