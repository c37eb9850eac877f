package pci

import (
	"fmt"

	"github.com/go-logr/logr"
)

func defaultBackend(c HostConfig, log logr.Logger) (Backend, error) {
	switch c.Backend {
	case "", "auto", "devpci":
		return NewDevPCIBackend(log), nil
	}
	return nil, fmt.Errorf("backend %q: %w", c.Backend, ErrNotSupported)
}
