// Layouts from <sys/pciio.h>, as produced by cgo -godefs on amd64.

package pci

type _Ctype_char int8

type _Ctype_pci_getconf_flags uint32

type _Ctype_pci_getconf_status uint32

type struct_pci_conf struct {
	pc_sel          struct_pcisel
	pc_hdr          uint8
	pc_subvendor    uint16
	pc_subdevice    uint16
	pc_vendor       uint16
	pc_device       uint16
	pc_class        uint8
	pc_subclass     uint8
	pc_progif       uint8
	pc_revid        uint8
	pd_name         [17]_Ctype_char
	pd_unit         uint64
	pd_numa_domain  int32
	pc_reported_len uint64
	pc_spare        [64]int8
}

type struct_pci_conf_io struct {
	pat_buf_len   uint32
	num_patterns  uint32
	patterns      *struct_pci_match_conf
	match_buf_len uint32
	num_matches   uint32
	matches       *struct_pci_conf
	offset        uint32
	generation    uint32
	status        _Ctype_pci_getconf_status
	_             [4]byte
}

type struct_pci_io struct {
	pi_sel   struct_pcisel
	pi_reg   int32
	pi_width int32
	pi_data  uint32
}

type struct_pci_bar_io struct {
	pbi_sel     struct_pcisel
	pbi_reg     int32
	pbi_enabled int32
	pbi_base    uint64
	pbi_length  uint64
}

type struct_pci_match_conf struct {
	pc_sel    struct_pcisel
	pd_name   [17]_Ctype_char
	pd_unit   uint64
	pc_vendor uint16
	pc_device uint16
	pc_class  uint8
	flags     _Ctype_pci_getconf_flags
	_         [4]byte
}

type struct_pcisel struct {
	pc_domain uint32
	pc_bus    uint8
	pc_dev    uint8
	pc_func   uint8
	_         [1]byte
}

const PCIOCGETCONF = 0xc030700a
const PCIOCREAD = 0xc0147002
const PCIOCWRITE = 0xc0147003
const PCIOCGETBAR = 0xc0207006

const PCI_GETCONF_LAST_DEVICE = 0x0
const PCI_GETCONF_LIST_CHANGED = 0x1
const PCI_GETCONF_MORE_DEVS = 0x2
