package pci

// ConfigSize returns the size of the configuration space of the device,
// 256 or 4096 bytes depending on the device and the backend.
func (d *Device) ConfigSize() int {
	if d.check() != nil {
		return 0
	}
	return d.sys.backend.ConfigSize(d.Address)
}

func (d *Device) checkRange(op string, off, size int) error {
	if err := d.check(); err != nil {
		return &CfgError{Addr: d.Address, Op: op, Offset: off, Size: size, Err: err}
	}
	limit := d.sys.backend.ConfigSize(d.Address)
	if off < 0 || size < 0 || size > limit || off > limit-size {
		return &CfgError{Addr: d.Address, Op: op, Offset: off, Size: size, Err: ErrOutOfRange}
	}
	return nil
}

// ReadConfigAt reads len(p) bytes at off. It may read fewer bytes without
// error; n says how many.
func (d *Device) ReadConfigAt(p []byte, off int) (n int, err error) {
	if err = d.checkRange("read", off, len(p)); err != nil {
		return 0, err
	}
	n, err = d.sys.backend.ReadConfig(d.Address, p, off)
	if err != nil {
		return n, &CfgError{Addr: d.Address, Op: "read", Offset: off, Size: len(p), Err: err}
	}
	d.sys.log.V(3).Info("Config read", "device", d.Address.String(), "offset", off, "size", len(p), "n", n)
	return n, nil
}

// ReadConfig reads size bytes at offset. The returned slice holds the
// bytes actually read and may be shorter than size.
func (d *Device) ReadConfig(offset, size int) ([]byte, error) {
	if err := d.checkRange("read", offset, size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	n, err := d.ReadConfigAt(b, offset)
	return b[:n], err
}

// WriteConfig writes data at offset and returns the number of bytes
// actually written.
func (d *Device) WriteConfig(data []byte, offset int) (n int, err error) {
	if err = d.checkRange("write", offset, len(data)); err != nil {
		return 0, err
	}
	n, err = d.sys.backend.WriteConfig(d.Address, data, offset)
	if err != nil {
		return n, &CfgError{Addr: d.Address, Op: "write", Offset: offset, Size: len(data), Err: err}
	}
	d.sys.log.V(3).Info("Config write", "device", d.Address.String(), "offset", offset, "size", len(data), "n", n)
	return n, nil
}

// The typed accessors issue a single transfer of their width, so backends
// able to do so perform them as one configuration cycle.

func (d *Device) readFull(p []byte, off int) error {
	n, err := d.ReadConfigAt(p, off)
	if err == nil && n != len(p) {
		err = &CfgError{Addr: d.Address, Op: "read", Offset: off, Size: len(p), Err: ErrShortTransfer}
	}
	return err
}

func (d *Device) writeFull(p []byte, off int) error {
	n, err := d.WriteConfig(p, off)
	if err == nil && n != len(p) {
		err = &CfgError{Addr: d.Address, Op: "write", Offset: off, Size: len(p), Err: ErrShortTransfer}
	}
	return err
}

func (d *Device) ReadConfig8(off int) (uint8, error) {
	var b [1]byte
	err := d.readFull(b[:], off)
	return b[0], err
}

func (d *Device) ReadConfig16(off int) (uint16, error) {
	var b [2]byte
	if err := d.readFull(b[:], off); err != nil {
		return 0, err
	}
	return le.Uint16(b[:]), nil
}

func (d *Device) ReadConfig32(off int) (uint32, error) {
	var b [4]byte
	if err := d.readFull(b[:], off); err != nil {
		return 0, err
	}
	return le.Uint32(b[:]), nil
}

func (d *Device) WriteConfig8(off int, v uint8) error {
	return d.writeFull([]byte{v}, off)
}

func (d *Device) WriteConfig16(off int, v uint16) error {
	var b [2]byte
	le.PutUint16(b[:], v)
	return d.writeFull(b[:], off)
}

func (d *Device) WriteConfig32(off int, v uint32) error {
	var b [4]byte
	le.PutUint32(b[:], v)
	return d.writeFull(b[:], off)
}
