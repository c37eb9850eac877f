package pci

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/procfs/sysfs"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/lprylli/pciaccess/pmem"
)

const DefaultSysfsRoot = "/sys"

const pciDir = "bus/pci/devices"

// SysfsBackend reaches devices through the Linux sysfs pci tree.
//
// Configuration accesses are single pread/pwrite calls on the config file,
// so aligned 1, 2 and 4 byte accesses are one configuration cycle. Without
// privileges the kernel only exposes the first 64 bytes and reads past
// them come back short.
type SysfsBackend struct {
	root   string
	method MapMethod
	log    logr.Logger

	cfg     map[Address]*os.File
	cfgSize map[Address]int
}

func NewSysfsBackend(root string, method MapMethod, log logr.Logger) *SysfsBackend {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsBackend{
		root:    root,
		method:  method,
		log:     log,
		cfg:     make(map[Address]*os.File),
		cfgSize: make(map[Address]int),
	}
}

func (b *SysfsBackend) devFile(a Address, name string) string {
	return filepath.Join(b.root, pciDir, a.String(), name)
}

// Enumerate lists devices through procfs, falling back to a plain
// directory scan of the config headers when procfs cannot parse the tree.
func (b *SysfsBackend) Enumerate() ([]RawDevice, error) {
	raws, err := b.enumProcfs()
	if err != nil {
		b.log.V(1).Info("Falling back to sysfs directory scan", "reason", err.Error())
		raws, err = b.scan()
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(raws, func(i, j int) bool { return raws[i].Addr.less(raws[j].Addr) })
	return raws, nil
}

func (b *SysfsBackend) enumProcfs() ([]RawDevice, error) {
	sfs, err := sysfs.NewFS(b.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs: %w", err)
	}
	devices, err := sfs.PciDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to read pci devices: %w", err)
	}
	raws := make([]RawDevice, 0, len(devices))
	for _, pd := range devices {
		a := Address{
			Domain: uint16(pd.Location.Segment),
			Bus:    uint8(pd.Location.Bus),
			Dev:    uint8(pd.Location.Device),
			Func:   uint8(pd.Location.Function),
		}
		id := &Identity{
			VendorID:    uint16(pd.Vendor),
			DeviceID:    uint16(pd.Device),
			SubvendorID: uint16(pd.SubsystemVendor),
			SubdeviceID: uint16(pd.SubsystemDevice),
			Class:       pd.Class,
			Revision:    uint8(pd.Revision),
		}
		// procfs does not report the header type.
		var ht [1]byte
		if n, err := b.ReadConfig(a, ht[:], PCI_HEADER_TYPE); err == nil && n == 1 {
			id.HeaderType = ht[0] & 0x7f
		}
		raws = append(raws, RawDevice{Addr: a, Ident: id})
	}
	return raws, nil
}

// scan walks the device directory and reads each config header itself.
func (b *SysfsBackend) scan() ([]RawDevice, error) {
	files, err := os.ReadDir(filepath.Join(b.root, pciDir))
	if err != nil {
		return nil, err
	}
	var raws []RawDevice
	for _, f := range files {
		a, err := ParseAddress(f.Name())
		if err != nil || a.String() != f.Name() {
			b.log.V(1).Info("Ignoring sysfs entry", "name", f.Name())
			continue
		}
		raw := RawDevice{Addr: a}
		h := make([]byte, headerSize)
		n, err := b.ReadConfig(a, h, 0)
		switch {
		case err != nil:
			raw.Err = err
		case n < 0x30:
			raw.Err = fmt.Errorf("config header %d bytes: %w", n, ErrMalformed)
		default:
			raw.Header = h[:n]
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// config returns the cached config file of a, opened read-write when
// permitted.
func (b *SysfsBackend) config(a Address) (*os.File, error) {
	if f := b.cfg[a]; f != nil {
		return f, nil
	}
	path := b.devFile(a, "config")
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrPermission) {
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, err
	}
	b.cfg[a] = f
	return f, nil
}

func (b *SysfsBackend) ConfigSize(a Address) int {
	if n, ok := b.cfgSize[a]; ok {
		return n
	}
	n := ConfigSpaceLegacySize
	if st, err := os.Stat(b.devFile(a, "config")); err == nil && st.Size() >= ConfigSpaceSize {
		n = ConfigSpaceSize
	}
	b.cfgSize[a] = n
	return n
}

func (b *SysfsBackend) ReadConfig(a Address, p []byte, off int) (int, error) {
	f, err := b.config(a)
	if err != nil {
		return 0, err
	}
	n, err := unix.Pread(int(f.Fd()), p, int64(off))
	if n < 0 {
		n = 0
	}
	return n, err
}

func (b *SysfsBackend) WriteConfig(a Address, p []byte, off int) (int, error) {
	f, err := b.config(a)
	if err != nil {
		return 0, err
	}
	n, err := unix.Pwrite(int(f.Fd()), p, int64(off))
	if n < 0 {
		n = 0
	}
	return n, err
}

func (b *SysfsBackend) Probe(a Address) (ProbeInfo, error) {
	info := ProbeInfo{IRQ: NoIRQ}
	f, err := os.Open(b.devFile(a, "resource"))
	if err != nil {
		return info, err
	}
	defer f.Close()
	info.BARs, info.ROMSize, err = parseResource(f)
	if err != nil {
		return info, err
	}
	if s, err := os.ReadFile(b.devFile(a, "irq")); err == nil {
		irq, err := strconv.Atoi(strings.TrimSpace(string(s)))
		if err != nil {
			return info, fmt.Errorf("irq: %w", err)
		}
		// Linux reports 0 for devices without an interrupt.
		if irq > 0 {
			info.IRQ = irq
		}
	}
	return info, nil
}

func (b *SysfsBackend) MapRegion(a Address, index int, r Region, write bool) (pmem.Region, error) {
	if r.Size > math.MaxInt {
		return nil, fmt.Errorf("size %#x: %w", r.Size, ErrUnmappableRegion)
	}
	size := int(r.Size)
	name := fmt.Sprintf("%s/resource%d", a, index)
	path := b.devFile(a, fmt.Sprintf("resource%d", index))
	if b.method != MapMethodDevMem {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if write && st.Mode().Perm()&0o222 == 0 {
			return nil, fmt.Errorf("%s is read-only: %w", path, ErrUnmappableRegion)
		}
	}
	switch b.method {
	case MapMethodFile:
		m, err := pmem.OpenFileRegion(name, path, 0, size, write)
		if err != nil {
			return nil, err
		}
		return m, nil
	case MapMethodDevMem:
		if r.Flags.IsIO() {
			return nil, fmt.Errorf("i/o region through /dev/mem: %w", ErrUnmappableRegion)
		}
		m, err := pmem.MapPhys(name, r.BaseAddr, size, write)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	if r.Flags.IsIO() {
		return nil, fmt.Errorf("i/o region with mmap: %w", ErrUnmappableRegion)
	}
	// Prefetchable regions get a write-combining mapping when the kernel
	// offers one.
	if r.Flags.IsPrefetchable() {
		if _, err := os.Stat(path + "_wc"); err == nil {
			path += "_wc"
		}
	}
	m, err := pmem.MapFile(name, path, 0, size, write)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReadROM enables the expansion ROM, reads it and disables it again.
func (b *SysfsBackend) ReadROM(a Address) (rom []byte, err error) {
	path := b.devFile(a, "rom")
	if err := os.WriteFile(path, []byte("1"), 0); err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, os.WriteFile(path, []byte("0"), 0))
	}()
	return os.ReadFile(path)
}

func (b *SysfsBackend) Close() (errs error) {
	for a, f := range b.cfg {
		errs = multierr.Append(errs, f.Close())
		delete(b.cfg, a)
	}
	clear(b.cfgSize)
	return
}
