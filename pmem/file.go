package pmem

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileRegion is a Region reached through pread/pwrite on a file, for
// windows that cannot be mapped such as sysfs I/O port resources.
type FileRegion struct {
	name     string
	fd       *os.File
	base     int64
	size     int
	writable bool
}

// OpenFileRegion opens size bytes of path starting at base.
func OpenFileRegion(name, path string, base int64, size int, write bool) (*FileRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%s: size %d: %w", name, size, ErrOutOfRange)
	}
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	fd, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	return &FileRegion{name: name, fd: fd, base: base, size: size, writable: write}, nil
}

func (m *FileRegion) Name() string { return m.name }

func (m *FileRegion) Size() int { return m.size }

func (m *FileRegion) Mem() []byte { return nil }

func (m *FileRegion) Close() error {
	if m.fd == nil {
		return nil
	}
	fd := m.fd
	m.fd = nil
	return fd.Close()
}

func (m *FileRegion) check(off int64, width int, write bool) error {
	if m.fd == nil {
		return fmt.Errorf("%s: %w", m.name, ErrClosed)
	}
	if off < 0 || off+int64(width) > int64(m.size) {
		return fmt.Errorf("%s: offset %#x width %d: %w", m.name, off, width, ErrOutOfRange)
	}
	if off&int64(width-1) != 0 {
		return fmt.Errorf("%s: offset %#x width %d: %w", m.name, off, width, ErrUnaligned)
	}
	if write && !m.writable {
		return fmt.Errorf("%s: %w", m.name, ErrReadOnly)
	}
	return nil
}

// read issues a single pread of len(b) bytes, which sysfs turns into one
// access of that width.
func (m *FileRegion) read(b []byte, off int64) error {
	if err := m.check(off, len(b), false); err != nil {
		return err
	}
	n, err := unix.Pread(int(m.fd.Fd()), b, m.base+off)
	if err != nil {
		return fmt.Errorf("%s: read %#x: %w", m.name, off, err)
	}
	if n != len(b) {
		return fmt.Errorf("%s: read %#x: short read %d/%d", m.name, off, n, len(b))
	}
	return nil
}

func (m *FileRegion) write(b []byte, off int64) error {
	if err := m.check(off, len(b), true); err != nil {
		return err
	}
	n, err := unix.Pwrite(int(m.fd.Fd()), b, m.base+off)
	if err != nil {
		return fmt.Errorf("%s: write %#x: %w", m.name, off, err)
	}
	if n != len(b) {
		return fmt.Errorf("%s: write %#x: short write %d/%d", m.name, off, n, len(b))
	}
	return nil
}

func (m *FileRegion) Read8(off int64) (uint8, error) {
	var b [1]byte
	err := m.read(b[:], off)
	return b[0], err
}

func (m *FileRegion) Read16(off int64) (uint16, error) {
	var b [2]byte
	err := m.read(b[:], off)
	return binary.LittleEndian.Uint16(b[:]), err
}

func (m *FileRegion) Read32(off int64) (uint32, error) {
	var b [4]byte
	err := m.read(b[:], off)
	return binary.LittleEndian.Uint32(b[:]), err
}

func (m *FileRegion) Read64(off int64) (uint64, error) {
	var b [8]byte
	err := m.read(b[:], off)
	return binary.LittleEndian.Uint64(b[:]), err
}

func (m *FileRegion) Write8(off int64, val uint8) error {
	return m.write([]byte{val}, off)
}

func (m *FileRegion) Write16(off int64, val uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], val)
	return m.write(b[:], off)
}

func (m *FileRegion) Write32(off int64, val uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	return m.write(b[:], off)
}

func (m *FileRegion) Write64(off int64, val uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], val)
	return m.write(b[:], off)
}
