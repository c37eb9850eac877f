package pci

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// enumerate turns the backend inventory into Device records with identity
// fields only. Bad entries are skipped; the scan fails only when nothing
// could be enumerated and something went wrong.
func (s *System) enumerate() ([]*Device, error) {
	raws, err := s.backend.Enumerate()
	if err != nil {
		return nil, &InitError{Err: err}
	}
	var (
		devs []*Device
		errs error
	)
	seen := make(map[Address]bool, len(raws))
	for _, raw := range raws {
		id, err := identify(raw)
		if err != nil {
			s.log.V(1).Info("Skipping device", "device", raw.Addr.String(), "reason", err.Error())
			if !errors.Is(err, ErrNoDevice) {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", raw.Addr, err))
			}
			continue
		}
		if seen[raw.Addr] {
			s.log.V(1).Info("Skipping duplicate device", "device", raw.Addr.String())
			continue
		}
		seen[raw.Addr] = true
		d := &Device{Address: raw.Addr, Identity: id, IRQ: NoIRQ}
		s.log.V(2).Info("Found pci device", "device", raw.Addr.String(),
			"vendor", fmt.Sprintf("%04x", id.VendorID), "id", fmt.Sprintf("%04x", id.DeviceID),
			"class", fmt.Sprintf("%06x", id.Class))
		devs = append(devs, d)
	}
	if len(devs) == 0 && errs != nil {
		return nil, &InitError{Err: errs}
	}
	return devs, nil
}

func identify(raw RawDevice) (Identity, error) {
	if raw.Err != nil {
		return Identity{}, raw.Err
	}
	if raw.Header != nil {
		return decodeHeader(raw.Header)
	}
	if raw.Ident == nil {
		return Identity{}, ErrMalformed
	}
	id := *raw.Ident
	if id.VendorID == 0xffff || id.VendorID == 0 {
		return id, ErrNoDevice
	}
	if id.Class > 0xffffff {
		return id, ErrMalformed
	}
	return id, nil
}
