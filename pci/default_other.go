//go:build !linux && !freebsd

package pci

import "github.com/go-logr/logr"

func defaultBackend(HostConfig, logr.Logger) (Backend, error) {
	return nil, ErrNotSupported
}
