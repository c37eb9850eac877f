package pci

import "encoding/binary"

const (
	// Legacy pci header definitions
	PCI_VENDOR_ID          = 0x0
	PCI_DEVICE_ID          = 0x2
	PCI_COMMAND            = 0x4
	PCI_STATUS             = 0x6
	PCI_STATUS_CAP_LIST    = 0x10
	PCI_STATUS_SERR        = 0x4000
	PCI_REVISION_ID        = 0x8
	PCI_CLASS_PROG         = 0x9
	PCI_HEADER_TYPE        = 0xe
	PCI_HEADER_TYPE_NORMAL = 0
	PCI_HEADER_TYPE_BRIDGE = 1
	PCI_HEADER_TYPE_CB     = 2
	PCI_BASE_ADDRESS_0     = 0x10
	PCI_SECONDARY_BUS      = 0x19
	PCI_SUBSYSTEM_VID      = 0x2c
	PCI_SUBSYSTEM_ID       = 0x2e
	PCI_CAPABILITY_LIST    = 0x34
	PCI_CB_CAPABILITY_LIST = 0x14
	PCI_CB_SUBSYSTEM_VID   = 0x40
	PCI_CB_SUBSYSTEM_ID    = 0x42
	PCI_INTERRUPT_LINE     = 0x3c

	// Bits in the low nibble of a base address register.
	PCI_BASE_ADDRESS_SPACE_IO     = 0x1
	PCI_BASE_ADDRESS_MEM_TYPE     = 0x6
	PCI_BASE_ADDRESS_MEM_TYPE_64  = 0x4
	PCI_BASE_ADDRESS_MEM_PREFETCH = 0x8
	PCI_BASE_ADDRESS_IO_MASK      = ^uint32(0x3)
	PCI_BASE_ADDRESS_MEM_MASK     = ^uint32(0xf)

	// Legacy capability ids
	PCI_CAP_ID_PM   = 0x01
	PCI_CAP_ID_AGP  = 0x02
	PCI_CAP_ID_VPD  = 0x03
	PCI_CAP_ID_MSI  = 0x05
	PCI_CAP_ID_EXP  = 0x10
	PCI_CAP_ID_MSIX = 0x11

	// AGP capability registers, relative to the capability offset
	PCI_AGP_VERSION = 2
	PCI_AGP_STATUS  = 4
	PCI_AGP_COMMAND = 8

	// Pcie Capability
	PCI_EXP_FLAGS  = 0x2
	PCI_EXP_DEVSTA = 0xa
	PCI_EXP_LNKCAP = 0xc
	PCI_EXP_LNKSTA = 0x12

	PCI_CAP_EXP_TYPE_ENDPOINT   = 0
	PCI_CAP_EXP_TYPE_ROOT_PORT  = 4
	PCI_CAP_EXP_TYPE_UPSTREAM   = 5
	PCI_CAP_EXP_TYPE_DOWNSTREAM = 6
	PCI_CAP_EXP_TYPE_PCI_BRIDGE = 7

	// PCIe extended capabilities
	PCI_ECAP_START  = 0x100
	PCI_ECAP_ID_AER = 1

	// AER registers, relative to the extended capability offset
	PCI_ERR_UNCOR_STATUS = 0x4
	PCI_ERR_COR_STATUS   = 0x10
)

const (
	// ConfigSpaceLegacySize is the size of a conventional PCI configuration space.
	ConfigSpaceLegacySize = 256
	// ConfigSpaceSize is the size of a PCIe extended configuration space.
	ConfigSpaceSize = 4096

	// NumRegions is the number of base address registers of a type 0 header.
	NumRegions = 6

	// NoIRQ is the IRQ of a device without an interrupt line.
	NoIRQ = -1
)

var le = binary.LittleEndian

// BDF packs bus, device and function the way requester ids are.
func BDF(bus, dev, fn int) int {
	return 256*bus + dev*8 + fn
}
