package pci

import (
	"fmt"

	"github.com/go-logr/logr"
)

func defaultBackend(c HostConfig, log logr.Logger) (Backend, error) {
	switch c.Backend {
	case "", "auto", "sysfs":
		return NewSysfsBackend(c.SysfsRoot, c.MapMethod, log), nil
	}
	return nil, fmt.Errorf("backend %q: %w", c.Backend, ErrNotSupported)
}
