package pci_test

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/lprylli/pciaccess/pci"
	"github.com/lprylli/pciaccess/pmem"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// nicDevice has a 64-bit prefetchable BAR0, an I/O BAR2 and a 32-bit
// BAR3 of zero size.
func nicDevice() *pci.MemDevice {
	d := memDevice(addr(0, 3, 0), 0x8086, 0x100e, 0x020000)
	d.BARs[0] = pci.RawBAR{Base: 0xf0000000, Size: 0x1000,
		Bits: pci.PCI_BASE_ADDRESS_MEM_TYPE_64 | pci.PCI_BASE_ADDRESS_MEM_PREFETCH}
	d.BARs[2] = pci.RawBAR{Base: 0xe000, Size: 0x20, Bits: pci.PCI_BASE_ADDRESS_SPACE_IO}
	d.BARs[4] = pci.RawBAR{Base: 0xf1000000, Size: 0x100}
	binary.LittleEndian.PutUint32(d.Config[pci.PCI_BASE_ADDRESS_0:], 0xf000000c)
	binary.LittleEndian.PutUint32(d.Config[pci.PCI_BASE_ADDRESS_0+8:], 0xe001)
	binary.LittleEndian.PutUint32(d.Config[pci.PCI_BASE_ADDRESS_0+16:], 0xf1000000)
	d.IRQ = 11
	d.ROM = []byte{0x55, 0xaa, 0x10, 0x00}
	return d
}

// shortBackend transfers at most one byte per config access.
type shortBackend struct {
	*pci.MemBackend
}

func (b shortBackend) ReadConfig(a pci.Address, p []byte, off int) (int, error) {
	return b.MemBackend.ReadConfig(a, p[:min(len(p), 1)], off)
}

// noROMBackend hides the ROM support of the wrapped backend.
type noROMBackend struct {
	pci.Backend
}

var _ = Describe("Device", func() {
	var (
		nic     *pci.MemDevice
		backend *pci.MemBackend
		sys     *pci.System
		d       *pci.Device
	)

	BeforeEach(func() {
		nic = nicDevice()
		backend = pci.NewMemBackend(nic, memDevice(addr(0, 0, 0), 0x8086, 0x1237, 0x060000))
		var err error
		sys, err = pci.Open(pci.WithBackend(backend), pci.WithLogger(testLog))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sys.Cleanup)
		d = sys.Lookup(nic.Addr)
	})

	Context("Probe", func() {
		It("should decode the regions", func() {
			Expect(d.Probe()).To(Succeed())
			Expect(d.Probed()).To(BeTrue())
			Expect(d.IRQ).To(Equal(11))
			Expect(d.ROMSize).To(Equal(uint64(4)))

			r := d.Regions[0]
			Expect(r.BaseAddr).To(Equal(uint64(0xf0000000)))
			Expect(r.BusAddr).To(Equal(uint64(0xf0000000)))
			Expect(r.Size).To(Equal(uint64(0x1000)))
			Expect(r.Flags.Is64()).To(BeTrue())
			Expect(r.Flags.IsPrefetchable()).To(BeTrue())
			Expect(r.Flags.IsIO()).To(BeFalse())
			Expect(d.Regions[1].Unused()).To(BeTrue())

			io := d.Regions[2]
			Expect(io.Flags.IsIO()).To(BeTrue())
			Expect(io.Flags.Is64() || io.Flags.IsPrefetchable()).To(BeFalse())
			Expect(io.BusAddr).To(Equal(uint64(0xe000)))

			Expect(d.Regions[4].Flags.String()).To(Equal("mem32"))
			Expect(d.Regions[3].Unused()).To(BeTrue())
		})

		It("should zero the slot after a 64-bit region", func() {
			nic.BARs[1] = pci.RawBAR{Base: 0xdead0000, Size: 0x10}
			Expect(d.Probe()).To(Succeed())
			for i := 0; i < pci.NumRegions-1; i++ {
				if d.Regions[i].Flags.Is64() {
					Expect(d.Regions[i+1].Unused()).To(BeTrue())
				}
			}
		})

		It("should not take a 64-bit BAR in the last slot as 64-bit", func() {
			nic.BARs[5] = pci.RawBAR{Base: 0xf2000000, Size: 0x1000, Bits: pci.PCI_BASE_ADDRESS_MEM_TYPE_64}
			Expect(d.Probe()).To(Succeed())
			Expect(d.Regions[5].Flags.Is64()).To(BeFalse())
			Expect(d.Regions[5].Size).To(Equal(uint64(0x1000)))
		})

		It("should be idempotent", func() {
			Expect(d.Probe()).To(Succeed())
			first := d.Regions
			nic.BARs[4].Size = 0x200
			Expect(d.Probe()).To(Succeed())
			Expect(d.Regions).To(Equal(first))
		})

		It("should leave the device untouched on failure", func() {
			nic.ProbeErr = errors.New("resource unreadable")
			err := d.Probe()
			var pe *pci.ProbeError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Addr).To(Equal(nic.Addr))
			Expect(d.Probed()).To(BeFalse())
			Expect(d.Regions[0].Size).To(BeZero())
			Expect(d.IRQ).To(Equal(pci.NoIRQ))

			nic.ProbeErr = nil
			Expect(d.Probe()).To(Succeed())
		})
	})

	Context("configuration space", func() {
		It("should read back what was written", func() {
			Expect(d.WriteConfig16(4, 0x1234)).To(Succeed())
			Expect(d.ReadConfig16(4)).To(Equal(uint16(0x1234)))
			Expect(nic.Config[4:6]).To(Equal([]byte{0x34, 0x12}))

			Expect(d.WriteConfig32(0x40, 0xdeadbeef)).To(Succeed())
			Expect(d.ReadConfig32(0x40)).To(Equal(uint32(0xdeadbeef)))
			Expect(d.ReadConfig8(0x43)).To(Equal(uint8(0xde)))
			Expect(d.WriteConfig8(0x43, 0x5a)).To(Succeed())
			Expect(d.ReadConfig32(0x40)).To(Equal(uint32(0x5aadbeef)))

			n, err := d.WriteConfig([]byte{1, 2, 3}, 0x50)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))
			Expect(d.ReadConfig(0x50, 3)).To(Equal([]byte{1, 2, 3}))
		})

		It("should allow accesses up to the end of the space", func() {
			Expect(d.ConfigSize()).To(Equal(pci.ConfigSpaceLegacySize))
			b, err := d.ReadConfig(0, pci.ConfigSpaceLegacySize)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(HaveLen(pci.ConfigSpaceLegacySize))
			_, err = d.ReadConfig32(0xfc)
			Expect(err).NotTo(HaveOccurred())
			b, err = d.ReadConfig(pci.ConfigSpaceLegacySize, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(BeEmpty())
		})

		DescribeTable("should refuse accesses outside the space",
			func(off, size int) {
				_, err := d.ReadConfig(off, size)
				var ce *pci.CfgError
				Expect(errors.As(err, &ce)).To(BeTrue())
				Expect(ce.Err).To(MatchError(pci.ErrOutOfRange))
				Expect(ce.Offset).To(Equal(off))
			},
			Entry("past the end", 0xfe, 4),
			Entry("at the end", 0x100, 1),
			Entry("negative offset", -1, 1),
			Entry("negative size", 0, -1),
			Entry("size past any space", 0, math.MaxInt),
			Entry("offset wrapping around", math.MaxInt-1, 4),
		)

		It("should refuse huge reads without allocating", func() {
			Expect(func() {
				_, err := d.ReadConfig(0, math.MaxInt)
				Expect(errors.Is(err, pci.ErrOutOfRange)).To(BeTrue())
			}).NotTo(Panic())
			_, err := d.ReadConfig32(math.MaxInt - 1)
			Expect(errors.Is(err, pci.ErrOutOfRange)).To(BeTrue())
		})

		It("should refuse typed writes outside the space", func() {
			err := d.WriteConfig32(0xfe, 0)
			Expect(errors.Is(err, pci.ErrOutOfRange)).To(BeTrue())
			Expect(nic.Config[0xfe:]).To(Equal([]byte{0, 0}))
		})

		It("should report short typed transfers", func() {
			sys2, err := pci.Open(pci.WithBackend(shortBackend{pci.NewMemBackend(nicDevice())}))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sys2.Cleanup)
			d2 := sys2.Lookup(nic.Addr)

			b, err := d2.ReadConfig(0, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(Equal([]byte{0x86}))
			_, err = d2.ReadConfig16(0)
			Expect(errors.Is(err, pci.ErrShortTransfer)).To(BeTrue())
		})
	})

	Context("region mapping", func() {
		It("should refuse bad indices and unprobed devices", func() {
			err := d.MapRegion(0, false)
			Expect(errors.Is(err, pci.ErrNotProbed)).To(BeTrue())

			Expect(d.Probe()).To(Succeed())
			for _, i := range []int{-1, pci.NumRegions} {
				err = d.MapRegion(i, false)
				var me *pci.MapError
				Expect(errors.As(err, &me)).To(BeTrue())
				Expect(me.Index).To(Equal(i))
				Expect(me.Err).To(MatchError(pci.ErrInvalidRegion))
			}
			Expect(errors.Is(d.UnmapRegion(7), pci.ErrInvalidRegion)).To(BeTrue())
		})

		It("should refuse regions of zero size", func() {
			Expect(d.Probe()).To(Succeed())
			Expect(errors.Is(d.MapRegion(3, false), pci.ErrUnmappableRegion)).To(BeTrue())
		})

		It("should map and unmap symmetrically", func() {
			Expect(d.Probe()).To(Succeed())
			Expect(d.Regions[0].Mapped()).To(BeFalse())
			Expect(d.MapRegion(0, true)).To(Succeed())
			Expect(d.Regions[0].Mapped()).To(BeTrue())

			m := d.Regions[0].Memory()
			Expect(m.Size()).To(Equal(0x1000))
			Expect(m.Write32(0x10, 0xcafef00d)).To(Succeed())
			Expect(m.Read32(0x10)).To(Equal(uint32(0xcafef00d)))
			Expect(binary.LittleEndian.Uint32(nic.Mem[0][0x10:])).To(Equal(uint32(0xcafef00d)))

			Expect(d.UnmapRegion(0)).To(Succeed())
			Expect(d.Regions[0].Mapped()).To(BeFalse())
			Expect(d.Regions[0].Memory()).To(BeNil())
			Expect(d.UnmapRegion(0)).To(Succeed())

			Expect(d.MapRegion(0, false)).To(Succeed())
			Expect(d.Regions[0].Memory().Read32(0x10)).To(Equal(uint32(0xcafef00d)))
		})

		It("should not upgrade a read-only mapping", func() {
			Expect(d.Probe()).To(Succeed())
			Expect(d.MapRegion(4, false)).To(Succeed())
			m := d.Regions[4].Memory()
			Expect(errors.Is(m.Write8(0, 1), pmem.ErrReadOnly)).To(BeTrue())

			err := d.MapRegion(4, true)
			Expect(errors.Is(err, pci.ErrAlreadyMapped)).To(BeTrue())
			Expect(d.MapRegion(4, false)).To(Succeed())
			Expect(d.Regions[4].Memory()).To(BeIdenticalTo(m))
		})

		It("should accept a weaker request on a writable mapping", func() {
			Expect(d.Probe()).To(Succeed())
			Expect(d.MapRegion(2, true)).To(Succeed())
			m := d.Regions[2].Memory()
			Expect(d.MapRegion(2, false)).To(Succeed())
			Expect(d.Regions[2].Memory()).To(BeIdenticalTo(m))
		})

		It("should unmap everything on Cleanup", func() {
			Expect(d.Probe()).To(Succeed())
			Expect(d.MapRegion(0, true)).To(Succeed())
			Expect(d.MapRegion(4, false)).To(Succeed())
			m := d.Regions[0].Memory()
			Expect(sys.Cleanup()).To(Succeed())
			Expect(d.Regions[0].Mapped()).To(BeFalse())
			Expect(d.Regions[4].Mapped()).To(BeFalse())
			_, err := m.Read32(0)
			Expect(errors.Is(err, pmem.ErrClosed)).To(BeTrue())
			Expect(errors.Is(d.MapRegion(0, false), pci.ErrNotInitialized)).To(BeTrue())
		})
	})

	Context("expansion ROM", func() {
		It("should read the ROM image", func() {
			Expect(d.ReadROM()).To(Equal([]byte{0x55, 0xaa, 0x10, 0x00}))
		})

		It("should report backends without ROM access", func() {
			sys2, err := pci.Open(pci.WithBackend(noROMBackend{pci.NewMemBackend(nicDevice())}))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sys2.Cleanup)
			_, err = sys2.Lookup(nic.Addr).ReadROM()
			Expect(errors.Is(err, pci.ErrNotSupported)).To(BeTrue())
		})
	})
})

var _ = Describe("RegionFlags", func() {
	It("should reject prefetchable or 64-bit I/O", func() {
		_, err := pci.NewRegionFlags(pci.RegionIO, pci.RegionPrefetchable)
		Expect(err).To(MatchError(pci.ErrInvalidRegionFlags))
		_, err = pci.NewRegionFlags(pci.RegionIO, pci.Region64)
		Expect(err).To(MatchError(pci.ErrInvalidRegionFlags))
		f, err := pci.NewRegionFlags(pci.Region64, pci.RegionPrefetchable)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.String()).To(Equal("mem64 prefetchable"))
	})
})
