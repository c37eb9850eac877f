package pci

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("pci: system not initialized")
	ErrNotSupported       = errors.New("pci: not supported on this host")
	ErrOutOfRange         = errors.New("pci: access outside configuration space")
	ErrShortTransfer      = errors.New("pci: short configuration space transfer")
	ErrInvalidRegion      = errors.New("pci: region index out of range")
	ErrInvalidRegionFlags = errors.New("pci: i/o region cannot be prefetchable or 64-bit")
	ErrNotProbed          = errors.New("pci: device not probed")
	ErrUnmappableRegion   = errors.New("pci: region cannot be mapped")
	ErrAlreadyMapped      = errors.New("pci: region already mapped read-only")
	ErrBadFilter          = errors.New("pci: bad device filter")
	ErrNoDevice           = errors.New("pci: no device present")
	ErrMalformed          = errors.New("pci: malformed device entry")
)

// InitError reports that the host device inventory could not be read.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return "pci: init: " + e.Err.Error() }
func (e *InitError) Unwrap() error { return e.Err }

// ProbeError reports that a device resource description could not be read.
type ProbeError struct {
	Addr Address
	Err  error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("pci: probe %s: %v", e.Addr, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

// MapError reports a failed map or unmap of region Index.
type MapError struct {
	Addr  Address
	Index int
	Err   error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("pci: %s region %d: %v", e.Addr, e.Index, e.Err)
}
func (e *MapError) Unwrap() error { return e.Err }

// CfgError reports a failed configuration space access.
type CfgError struct {
	Addr   Address
	Op     string
	Offset int
	Size   int
	Err    error
}

func (e *CfgError) Error() string {
	return fmt.Sprintf("pci: %s: config %s(%#x, %d): %v", e.Addr, e.Op, e.Offset, e.Size, e.Err)
}
func (e *CfgError) Unwrap() error { return e.Err }
