package pci

import (
	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

// System is the device table of one host backend. Several Systems may
// coexist; each owns the Devices it enumerated.
//
// A System is not safe for concurrent use. Callers sharing one across
// goroutines serialize access themselves.
type System struct {
	backend Backend
	host    HostConfig
	log     logr.Logger

	devices []*Device
	byAddr  map[Address]*Device
	gen     uint64
	ready   bool
}

type Option func(*System)

// WithBackend selects the host mechanism. Without it Init picks the
// default backend of the platform.
func WithBackend(b Backend) Option {
	return func(s *System) { s.backend = b }
}

// WithHost tunes the default backend Init picks when none is given.
func WithHost(c HostConfig) Option {
	return func(s *System) { s.host = c }
}

func WithLogger(log logr.Logger) Option {
	return func(s *System) { s.log = log }
}

// New returns an uninitialized System.
func New(opts ...Option) *System {
	s := &System{log: logr.Discard()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open returns an initialized System.
func Open(opts ...Option) (*System, error) {
	s := New(opts...)
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init enumerates the host devices. Calling it again on an initialized
// System does nothing. After Cleanup, Init enumerates afresh and devices
// from the previous enumeration stay invalid.
func (s *System) Init() error {
	if s.ready {
		return nil
	}
	if s.backend == nil {
		b, err := defaultBackend(s.host, s.log)
		if err != nil {
			return &InitError{Err: err}
		}
		s.backend = b
	}
	devs, err := s.enumerate()
	if err != nil {
		return err
	}
	s.gen++
	s.byAddr = make(map[Address]*Device, len(devs))
	for _, d := range devs {
		d.sys = s
		d.gen = s.gen
		s.byAddr[d.Address] = d
	}
	s.devices = devs
	s.ready = true
	s.log.V(1).Info("Enumerated pci devices", "count", len(devs))
	return nil
}

// Cleanup unmaps every mapped region, releases the backend and invalidates
// all devices and iterators. It is safe to call on an uninitialized System.
func (s *System) Cleanup() error {
	if !s.ready {
		return nil
	}
	var errs error
	for _, d := range s.devices {
		errs = multierr.Append(errs, d.unmapAll())
	}
	errs = multierr.Append(errs, s.backend.Close())
	s.ready = false
	s.devices = nil
	s.byAddr = nil
	return errs
}

// Devices returns the enumerated devices in discovery order. The slice is
// shared with the System and must not be modified.
func (s *System) Devices() ([]*Device, error) {
	if !s.ready {
		return nil, ErrNotInitialized
	}
	return s.devices, nil
}

// Lookup returns the device at a, or nil.
func (s *System) Lookup(a Address) *Device {
	if !s.ready {
		return nil
	}
	return s.byAddr[a]
}

// FindByID returns the devices with the given vendor and device ids.
func (s *System) FindByID(vid, did uint16) (l []*Device) {
	if !s.ready {
		return nil
	}
	for _, d := range s.devices {
		if d.VendorID == vid && d.DeviceID == did {
			l = append(l, d)
		}
	}
	return
}
