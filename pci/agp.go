package pci

// AGPInfo is the decoded AGP capability of a device.
type AGPInfo struct {
	// Offset of the capability in configuration space. The AGP command
	// register sits at ConfigOffset+8.
	ConfigOffset int

	MajorVersion uint8
	MinorVersion uint8

	// Supported transfer rates, one bit per rate: 0x07 is 1x, 2x and 4x;
	// 0x0c is 4x and 8x.
	Rates uint8

	FastWrites      bool
	Addr64          bool
	HostTranslation bool
	GART64          bool
	Coherent        bool
	Sideband        bool
	Isochronous     bool

	AsyncReqSize           uint8
	CalibrationCycleTiming uint8
	MaxRequests            uint8
}

// AGP status register bits.
const (
	agpStatusRates      = 0x00000007
	agpStatusMode3      = 0x00000008
	agpStatusFastWrites = 0x00000010
	agpStatusAddr64     = 0x00000020
	agpStatusNoHTrans   = 0x00000040
	agpStatusGART64     = 0x00000080
	agpStatusCoherent   = 0x00000100
	agpStatusSideband   = 0x00000200
	agpStatusCalCycle   = 0x00001c00
	agpStatusAsyncReq   = 0x0000e000
	agpStatusIsoch      = 0x00010000
	agpStatusMaxReqs    = 0xff000000
)

// AGPInfo returns the AGP capability of the device, or nil without error
// when it has none or its capability list is out of reach, as for
// unprivileged sysfs readers. The result is parsed once and cached on the device;
// callers must not modify it.
func (d *Device) AGPInfo() (*AGPInfo, error) {
	if err := d.check(); err != nil {
		return nil, &CfgError{Addr: d.Address, Op: "read", Err: err}
	}
	if d.agpValid {
		return d.agp, nil
	}
	off, found, err := d.FindCapability(PCI_CAP_ID_AGP)
	if err != nil {
		return nil, err
	}
	if !found {
		d.agpValid = true
		return nil, nil
	}
	ver, err := d.ReadConfig8(off + PCI_AGP_VERSION)
	if err != nil {
		return nil, err
	}
	status, err := d.ReadConfig32(off + PCI_AGP_STATUS)
	if err != nil {
		return nil, err
	}
	d.agp = decodeAGP(off, ver, status)
	d.agpValid = true
	return d.agp, nil
}

func decodeAGP(off int, ver uint8, status uint32) *AGPInfo {
	info := &AGPInfo{
		ConfigOffset: off,
		MajorVersion: ver >> 4,
		MinorVersion: ver & 0xf,
		Rates:        uint8(status & agpStatusRates),

		FastWrites:      status&agpStatusFastWrites != 0,
		Addr64:          status&agpStatusAddr64 != 0,
		HostTranslation: status&agpStatusNoHTrans == 0,
		GART64:          status&agpStatusGART64 != 0,
		Coherent:        status&agpStatusCoherent != 0,
		Sideband:        status&agpStatusSideband != 0,
		Isochronous:     status&agpStatusIsoch != 0,

		AsyncReqSize:           uint8(4 + (1 << ((status & agpStatusAsyncReq) >> 13))),
		CalibrationCycleTiming: uint8((status & agpStatusCalCycle) >> 10),
		MaxRequests:            uint8(1 + ((status & agpStatusMaxReqs) >> 24)),
	}
	// In AGP 3.0 mode the rate field counts from 4x.
	if info.MajorVersion >= 3 && status&agpStatusMode3 != 0 {
		info.Rates <<= 2
	}
	return info
}
