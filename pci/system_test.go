package pci_test

import (
	"errors"

	"github.com/lprylli/pciaccess/pci"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func addr(bus, dev, fn uint8) pci.Address {
	return pci.Address{Bus: bus, Dev: dev, Func: fn}
}

func memDevice(a pci.Address, vid, did uint16, class uint32) *pci.MemDevice {
	id := pci.Identity{VendorID: vid, DeviceID: did, SubvendorID: vid, SubdeviceID: 0x1, Class: class, Revision: 2}
	return &pci.MemDevice{Addr: a, Config: pci.ConfigImage(id, pci.ConfigSpaceLegacySize), IRQ: pci.NoIRQ}
}

// threeDevices is a host bridge, an Intel NIC and a VGA controller.
func threeDevices() *pci.MemBackend {
	return pci.NewMemBackend(
		memDevice(addr(0, 0, 0), 0x8086, 0x1237, 0x060000),
		memDevice(addr(0, 3, 0), 0x8086, 0x100e, 0x020000),
		memDevice(addr(1, 0, 0), 0x1002, 0x4c59, 0x030000),
	)
}

func addrs(devs []*pci.Device) (l []string) {
	for _, d := range devs {
		l = append(l, d.Address.String())
	}
	return
}

var _ = Describe("System", func() {
	var (
		backend *pci.MemBackend
		sys     *pci.System
	)

	BeforeEach(func() {
		backend = threeDevices()
		sys = pci.New(pci.WithBackend(backend), pci.WithLogger(testLog))
	})

	It("should refuse to work before Init", func() {
		_, err := sys.Devices()
		Expect(err).To(MatchError(pci.ErrNotInitialized))
		_, err = sys.Iterator(nil)
		Expect(err).To(MatchError(pci.ErrNotInitialized))
		Expect(sys.Lookup(addr(0, 0, 0))).To(BeNil())
		Expect(sys.Cleanup()).To(Succeed())
	})

	It("should enumerate every device with its identity", func() {
		Expect(sys.Init()).To(Succeed())
		devs, err := sys.Devices()
		Expect(err).NotTo(HaveOccurred())
		Expect(addrs(devs)).To(Equal([]string{"0000:00:00.0", "0000:00:03.0", "0000:01:00.0"}))

		d := sys.Lookup(addr(0, 3, 0))
		Expect(d).NotTo(BeNil())
		Expect(d.VendorID).To(Equal(uint16(0x8086)))
		Expect(d.DeviceID).To(Equal(uint16(0x100e)))
		Expect(d.SubvendorID).To(Equal(uint16(0x8086)))
		Expect(d.SubdeviceID).To(Equal(uint16(0x1)))
		Expect(d.Class).To(Equal(uint32(0x020000)))
		Expect(d.BaseClass()).To(Equal(uint8(0x02)))
		Expect(d.Revision).To(Equal(uint8(2)))
		Expect(d.Probed()).To(BeFalse())
		Expect(d.IRQ).To(Equal(pci.NoIRQ))
	})

	It("should only enumerate once until cleaned up", func() {
		Expect(sys.Init()).To(Succeed())
		backend.Add(memDevice(addr(2, 0, 0), 0x10de, 0x2901, 0x030200))
		Expect(sys.Init()).To(Succeed())
		devs, _ := sys.Devices()
		Expect(devs).To(HaveLen(3))

		old := sys.Lookup(addr(0, 0, 0))
		Expect(sys.Cleanup()).To(Succeed())
		Expect(backend.Closes()).To(Equal(1))
		_, err := old.ReadConfig8(0)
		Expect(errors.Is(err, pci.ErrNotInitialized)).To(BeTrue())

		Expect(sys.Init()).To(Succeed())
		devs, _ = sys.Devices()
		Expect(devs).To(HaveLen(4))
		_, err = old.ReadConfig8(0)
		Expect(errors.Is(err, pci.ErrNotInitialized)).To(BeTrue())
		Expect(sys.Lookup(addr(0, 0, 0)).ReadConfig8(0)).To(Equal(uint8(0x86)))
	})

	It("should find devices by id", func() {
		Expect(sys.Init()).To(Succeed())
		Expect(addrs(sys.FindByID(0x8086, 0x100e))).To(Equal([]string{"0000:00:03.0"}))
		Expect(sys.FindByID(0x8086, 0xffff)).To(BeEmpty())
	})

	It("should keep user data untouched", func() {
		Expect(sys.Init()).To(Succeed())
		d := sys.Lookup(addr(1, 0, 0))
		d.UserData = "gpu"
		Expect(d.Probe()).To(Succeed())
		Expect(sys.Lookup(addr(1, 0, 0)).UserData).To(Equal("gpu"))
	})

	Context("enumeration failures", func() {
		It("should skip absent, broken and duplicate entries", func() {
			ghost := memDevice(addr(0, 5, 0), 0xffff, 0xffff, 0)
			broken := memDevice(addr(0, 6, 0), 0x8086, 0x1, 0)
			broken.EnumErr = errors.New("config unreadable")
			dup := memDevice(addr(0, 3, 0), 0x1234, 0x5678, 0)
			backend.Add(ghost)
			backend.Add(broken)
			backend.Add(dup)

			Expect(sys.Init()).To(Succeed())
			devs, _ := sys.Devices()
			Expect(addrs(devs)).To(Equal([]string{"0000:00:00.0", "0000:00:03.0", "0000:01:00.0"}))
			Expect(sys.Lookup(addr(0, 3, 0)).VendorID).To(Equal(uint16(0x8086)))
		})

		It("should fail when nothing could be read", func() {
			d := memDevice(addr(0, 0, 0), 0x8086, 0x1, 0)
			d.EnumErr = errors.New("permission denied")
			short := &pci.MemDevice{Addr: addr(0, 1, 0), Config: make([]byte, 16)}
			sys = pci.New(pci.WithBackend(pci.NewMemBackend(d, short)))

			err := sys.Init()
			var ie *pci.InitError
			Expect(errors.As(err, &ie)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("permission denied"))
			Expect(errors.Is(err, pci.ErrMalformed)).To(BeTrue())
			_, err = sys.Devices()
			Expect(err).To(MatchError(pci.ErrNotInitialized))
		})

		It("should accept an empty host", func() {
			sys = pci.New(pci.WithBackend(pci.NewMemBackend()))
			Expect(sys.Init()).To(Succeed())
			devs, err := sys.Devices()
			Expect(err).NotTo(HaveOccurred())
			Expect(devs).To(BeEmpty())
		})

		It("should take identities from the backend when there is no header", func() {
			sys = pci.New(pci.WithBackend(pci.NewMemBackend(&pci.MemDevice{
				Addr:  addr(0, 2, 0),
				Ident: &pci.Identity{VendorID: 0x8086, DeviceID: 0x3e9b, Class: 0x030000},
			})))
			Expect(sys.Init()).To(Succeed())
			Expect(sys.Lookup(addr(0, 2, 0)).DeviceID).To(Equal(uint16(0x3e9b)))
		})

		It("should read CardBus subsystem ids at their own offsets", func() {
			id := pci.Identity{VendorID: 0x104c, DeviceID: 0xac56, SubvendorID: 0x1014, SubdeviceID: 0x0512,
				Class: 0x060700, HeaderType: pci.PCI_HEADER_TYPE_CB}
			sys = pci.New(pci.WithBackend(pci.NewMemBackend(&pci.MemDevice{
				Addr: addr(2, 0, 0), Config: pci.ConfigImage(id, pci.ConfigSpaceLegacySize),
			})))
			Expect(sys.Init()).To(Succeed())
			d := sys.Lookup(addr(2, 0, 0))
			Expect(d.HeaderType).To(Equal(uint8(pci.PCI_HEADER_TYPE_CB)))
			Expect(d.SubvendorID).To(Equal(uint16(0x1014)))
			Expect(d.SubdeviceID).To(Equal(uint16(0x0512)))
		})
	})

	It("should not pick a default backend for unknown names", func() {
		sys = pci.New(pci.WithHost(pci.HostConfig{Backend: "nosuch"}))
		err := sys.Init()
		Expect(errors.Is(err, pci.ErrNotSupported)).To(BeTrue())
	})
})

var _ = Describe("Address", func() {
	It("should print and parse the canonical form", func() {
		a := pci.Address{Domain: 1, Bus: 0x3a, Dev: 0x1f, Func: 7}
		Expect(a.String()).To(Equal("0001:3a:1f.7"))
		b, err := pci.ParseAddress("0001:3a:1f.7")
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(a))
		b, err = pci.ParseAddress("3a:1f.7")
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(pci.Address{Bus: 0x3a, Dev: 0x1f, Func: 7}))
	})

	It("should reject malformed addresses", func() {
		for _, s := range []string{"", "3a", "3a:20.0", "3a:1f.8", "zz:00.0", "1:2:3:4.0"} {
			_, err := pci.ParseAddress(s)
			Expect(err).To(HaveOccurred(), s)
		}
	})
})
