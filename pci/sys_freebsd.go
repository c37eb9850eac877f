package pci

import (
	"errors"
	"fmt"
	"math"
	"os"
	"unsafe"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/lprylli/pciaccess/pmem"
)

const (
	devPCI = "/dev/pci"
	devMem = "/dev/mem"
)

// DevPCIBackend reaches devices through the FreeBSD /dev/pci ioctls.
// Configuration accesses of width 1, 2 and 4 are one ioctl each. Regions
// are mapped through /dev/mem.
type DevPCIBackend struct {
	log logr.Logger
	fd  *os.File

	sel     map[Address]struct_pcisel
	cfgSize map[Address]int
}

func NewDevPCIBackend(log logr.Logger) *DevPCIBackend {
	return &DevPCIBackend{
		log:     log,
		sel:     make(map[Address]struct_pcisel),
		cfgSize: make(map[Address]int),
	}
}

func (b *DevPCIBackend) open() error {
	if b.fd != nil {
		return nil
	}
	f, err := os.OpenFile(devPCI, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	b.fd = f
	return nil
}

func (b *DevPCIBackend) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.fd.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (b *DevPCIBackend) Enumerate() ([]RawDevice, error) {
	if err := b.open(); err != nil {
		return nil, err
	}
	var (
		req   struct_pci_conf_io
		array [256]struct_pci_conf
		raws  []RawDevice
	)
	for {
		req.match_buf_len = uint32(unsafe.Sizeof(array))
		req.matches = &array[0]
		if err := b.ioctl(PCIOCGETCONF, unsafe.Pointer(&req)); err != nil {
			return nil, fmt.Errorf("PCIOCGETCONF: %w", err)
		}
		if req.status == PCI_GETCONF_LIST_CHANGED {
			// Start over on a consistent list.
			req = struct_pci_conf_io{}
			raws = raws[:0]
			continue
		}
		for i := 0; i < int(req.num_matches); i++ {
			p := &array[i]
			a := Address{
				Domain: uint16(p.pc_sel.pc_domain),
				Bus:    p.pc_sel.pc_bus,
				Dev:    p.pc_sel.pc_dev,
				Func:   p.pc_sel.pc_func,
			}
			b.sel[a] = p.pc_sel
			raws = append(raws, RawDevice{Addr: a, Ident: &Identity{
				VendorID:    p.pc_vendor,
				DeviceID:    p.pc_device,
				SubvendorID: p.pc_subvendor,
				SubdeviceID: p.pc_subdevice,
				Class:       uint32(p.pc_class)<<16 | uint32(p.pc_subclass)<<8 | uint32(p.pc_progif),
				Revision:    p.pc_revid,
				HeaderType:  p.pc_hdr & 0x7f,
			}})
		}
		switch req.status {
		case PCI_GETCONF_LAST_DEVICE:
			return raws, nil
		case PCI_GETCONF_MORE_DEVS:
			continue
		}
		return nil, fmt.Errorf("PCIOCGETCONF status %d", req.status)
	}
}

func (b *DevPCIBackend) selector(a Address) (struct_pcisel, error) {
	sel, ok := b.sel[a]
	if !ok || b.fd == nil {
		return sel, fmt.Errorf("%s: %w", a, ErrNoDevice)
	}
	return sel, nil
}

func (b *DevPCIBackend) cfgRead(sel struct_pcisel, off, width int) (uint32, error) {
	req := struct_pci_io{pi_sel: sel, pi_reg: int32(off), pi_width: int32(width)}
	if err := b.ioctl(PCIOCREAD, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("PCIOCREAD(%#x, %d): %w", off, width, err)
	}
	return req.pi_data, nil
}

func (b *DevPCIBackend) cfgWrite(sel struct_pcisel, off, width int, v uint32) error {
	req := struct_pci_io{pi_sel: sel, pi_reg: int32(off), pi_width: int32(width), pi_data: v}
	if err := b.ioctl(PCIOCWRITE, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("PCIOCWRITE(%#x, %d): %w", off, width, err)
	}
	return nil
}

// chunk returns the widest naturally aligned access at off that fits in n
// bytes.
func chunk(off, n int) int {
	switch {
	case off&3 == 0 && n >= 4:
		return 4
	case off&1 == 0 && n >= 2:
		return 2
	}
	return 1
}

func (b *DevPCIBackend) ReadConfig(a Address, p []byte, off int) (int, error) {
	sel, err := b.selector(a)
	if err != nil {
		return 0, err
	}
	done := 0
	for done < len(p) {
		w := chunk(off+done, len(p)-done)
		v, err := b.cfgRead(sel, off+done, w)
		if err != nil {
			return done, err
		}
		var buf [4]byte
		le.PutUint32(buf[:], v)
		copy(p[done:done+w], buf[:w])
		done += w
	}
	return done, nil
}

func (b *DevPCIBackend) WriteConfig(a Address, p []byte, off int) (int, error) {
	sel, err := b.selector(a)
	if err != nil {
		return 0, err
	}
	done := 0
	for done < len(p) {
		w := chunk(off+done, len(p)-done)
		var buf [4]byte
		copy(buf[:w], p[done:done+w])
		if err := b.cfgWrite(sel, off+done, w, le.Uint32(buf[:])); err != nil {
			return done, err
		}
		done += w
	}
	return done, nil
}

// ConfigSize is 4096 for PCI Express devices. The kernel reads zeroes past
// 256 bytes on conventional ones.
func (b *DevPCIBackend) ConfigSize(a Address) int {
	if n, ok := b.cfgSize[a]; ok {
		return n
	}
	n := ConfigSpaceLegacySize
	if sel, err := b.selector(a); err == nil && b.isExpress(sel) {
		n = ConfigSpaceSize
	}
	b.cfgSize[a] = n
	return n
}

func (b *DevPCIBackend) isExpress(sel struct_pcisel) bool {
	status, err := b.cfgRead(sel, PCI_STATUS, 2)
	if err != nil || status&PCI_STATUS_CAP_LIST == 0 {
		return false
	}
	ptr, err := b.cfgRead(sel, PCI_CAPABILITY_LIST, 1)
	if err != nil {
		return false
	}
	off := int(ptr) &^ 3
	for n := 0; off >= 0x40 && n < maxCaps; n++ {
		cdef, err := b.cfgRead(sel, off, 2)
		if err != nil {
			return false
		}
		if cdef&0xff == PCI_CAP_ID_EXP {
			return true
		}
		off = int(cdef>>8) &^ 3
	}
	return false
}

func (b *DevPCIBackend) Probe(a Address) (ProbeInfo, error) {
	info := ProbeInfo{IRQ: NoIRQ}
	sel, err := b.selector(a)
	if err != nil {
		return info, err
	}
	hdr, err := b.cfgRead(sel, PCI_HEADER_TYPE, 1)
	if err != nil {
		return info, err
	}
	n := numBARs(uint8(hdr) & 0x7f)
	for i := 0; i < n; i++ {
		reg := PCI_BASE_ADDRESS_0 + 4*i
		bar := struct_pci_bar_io{pbi_sel: sel, pbi_reg: int32(reg)}
		if err := b.ioctl(PCIOCGETBAR, unsafe.Pointer(&bar)); err != nil {
			// Unimplemented BARs fail with EINVAL.
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return info, fmt.Errorf("PCIOCGETBAR(%#x): %w", reg, err)
		}
		bits := uint32(bar.pbi_base & 0xf)
		base := bar.pbi_base &^ 0xf
		if bits&PCI_BASE_ADDRESS_SPACE_IO != 0 {
			bits = PCI_BASE_ADDRESS_SPACE_IO
			base = bar.pbi_base &^ 0x3
		}
		info.BARs[i] = RawBAR{Base: base, BusAddr: base, Size: bar.pbi_length, Bits: bits}
		if bits&PCI_BASE_ADDRESS_MEM_TYPE == PCI_BASE_ADDRESS_MEM_TYPE_64 {
			i++
		}
	}
	irq, err := b.cfgRead(sel, PCI_INTERRUPT_LINE, 1)
	if err == nil && irq != 0 && irq != 0xff {
		info.IRQ = int(irq)
	}
	return info, nil
}

func (b *DevPCIBackend) MapRegion(a Address, index int, r Region, write bool) (pmem.Region, error) {
	if r.Flags.IsIO() {
		return nil, fmt.Errorf("i/o region: %w", ErrUnmappableRegion)
	}
	if r.Size > math.MaxInt || r.BaseAddr > math.MaxInt64 {
		return nil, fmt.Errorf("region %#x+%#x: %w", r.BaseAddr, r.Size, ErrUnmappableRegion)
	}
	m, err := pmem.MapFile(fmt.Sprintf("%s/bar%d", a, index), devMem, int64(r.BaseAddr), int(r.Size), write)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (b *DevPCIBackend) Close() error {
	clear(b.sel)
	clear(b.cfgSize)
	if b.fd == nil {
		return nil
	}
	fd := b.fd
	b.fd = nil
	return fd.Close()
}
