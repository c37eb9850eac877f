package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lprylli/pciaccess/hwconf"
	"github.com/lprylli/pciaccess/pci"
)

type regionDump struct {
	Index   int    `yaml:"index"`
	Base    string `yaml:"base"`
	BusAddr string `yaml:"bus_addr,omitempty"`
	Size    uint64 `yaml:"size"`
	Kind    string `yaml:"kind"`
}

type capDump struct {
	ID     string `yaml:"id"`
	Offset string `yaml:"offset"`
}

type deviceDump struct {
	Address   string       `yaml:"address"`
	Vendor    string       `yaml:"vendor"`
	Device    string       `yaml:"device"`
	Subvendor string       `yaml:"subvendor"`
	Subdevice string       `yaml:"subdevice"`
	Class     string       `yaml:"class"`
	Revision  uint8        `yaml:"revision"`
	Tag       any          `yaml:"tag,omitempty"`
	IRQ       *int         `yaml:"irq,omitempty"`
	ROMSize   uint64       `yaml:"rom_size,omitempty"`
	Regions   []regionDump `yaml:"regions,omitempty"`
	Caps      []capDump    `yaml:"capabilities,omitempty"`
	ExtCaps   []capDump    `yaml:"extended_capabilities,omitempty"`
	AGP       *pci.AGPInfo `yaml:"agp,omitempty"`
}

var (
	probe    bool
	showCaps bool
	showAGP  bool
)

func dumpDevice(d *pci.Device, tag any) (dd deviceDump) {
	dd = deviceDump{
		Address:   d.Address.String(),
		Vendor:    fmt.Sprintf("%04x", d.VendorID),
		Device:    fmt.Sprintf("%04x", d.DeviceID),
		Subvendor: fmt.Sprintf("%04x", d.SubvendorID),
		Subdevice: fmt.Sprintf("%04x", d.SubdeviceID),
		Class:     fmt.Sprintf("%06x", d.Class),
		Revision:  d.Revision,
		Tag:       tag,
	}
	if probe {
		if err := d.Probe(); err != nil {
			log.Printf("%s\n", err)
		} else {
			irq := d.IRQ
			dd.IRQ = &irq
			dd.ROMSize = d.ROMSize
			for i, r := range d.Regions {
				if r.Unused() {
					continue
				}
				rd := regionDump{Index: i, Base: fmt.Sprintf("%#x", r.BaseAddr), Size: r.Size, Kind: r.Flags.String()}
				if r.BusAddr != r.BaseAddr {
					rd.BusAddr = fmt.Sprintf("%#x", r.BusAddr)
				}
				dd.Regions = append(dd.Regions, rd)
			}
		}
	}
	if showCaps {
		caps, err := d.Capabilities()
		if err != nil {
			log.Printf("%s\n", err)
		}
		for _, c := range caps {
			dd.Caps = append(dd.Caps, capDump{ID: fmt.Sprintf("%#02x", c.ID), Offset: fmt.Sprintf("%#x", c.Offset)})
		}
		ecaps, err := d.ExtCapabilities()
		if err != nil {
			log.Printf("%s\n", err)
		}
		for _, c := range ecaps {
			dd.ExtCaps = append(dd.ExtCaps, capDump{ID: fmt.Sprintf("%#04x", c.ID), Offset: fmt.Sprintf("%#x", c.Offset)})
		}
	}
	if showAGP {
		agp, err := d.AGPInfo()
		if err != nil {
			log.Printf("%s\n", err)
		}
		dd.AGP = agp
	}
	return
}

func printDevice(dd *deviceDump) {
	fmt.Printf("%s: vendor %s device %s class %s rev %#02x\n", dd.Address, dd.Vendor, dd.Device, dd.Class, dd.Revision)
	fmt.Printf("  subsystem %s:%s", dd.Subvendor, dd.Subdevice)
	if dd.Tag != nil {
		fmt.Printf("  tag %v", dd.Tag)
	}
	fmt.Printf("\n")
	if dd.IRQ != nil {
		if *dd.IRQ == pci.NoIRQ {
			fmt.Printf("  no irq\n")
		} else {
			fmt.Printf("  irq %d\n", *dd.IRQ)
		}
	}
	for _, r := range dd.Regions {
		fmt.Printf("  BASE%d %s size %#x %s\n", r.Index, r.Base, r.Size, r.Kind)
	}
	if dd.ROMSize != 0 {
		fmt.Printf("  ROM size %#x\n", dd.ROMSize)
	}
	for _, c := range dd.Caps {
		fmt.Printf("  cap %s at %s\n", c.ID, c.Offset)
	}
	for _, c := range dd.ExtCaps {
		fmt.Printf("  ecap %s at %s\n", c.ID, c.Offset)
	}
	if a := dd.AGP; a != nil {
		fmt.Printf("  AGP %d.%d at %#x rates %#x fw=%t a64=%t htrans=%t gart64=%t coh=%t sba=%t isoch=%t\n",
			a.MajorVersion, a.MinorVersion, a.ConfigOffset, a.Rates, a.FastWrites, a.Addr64,
			a.HostTranslation, a.GART64, a.Coherent, a.Sideband, a.Isochronous)
		fmt.Printf("      rq=%d arqsz=%d cal=%d\n", a.MaxRequests, a.AsyncReqSize, a.CalibrationCycleTiming)
	}
}

func main() {
	fs := pflag.NewFlagSet("scanpci", pflag.ExitOnError)
	hwconf.AddFlags(fs)
	fs.BoolVarP(&probe, "probe", "p", false, "Probe regions, rom and irq")
	fs.BoolVarP(&showCaps, "caps", "c", false, "List capabilities")
	fs.BoolVar(&showAGP, "agp", false, "Decode the AGP capability")
	asYAML := fs.Bool("yaml", false, "Output YAML")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: scanpci [options] [filter terms...]\n")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	conf, err := hwconf.FromFlags(fs)
	if err != nil {
		log.Fatalln(err)
	}
	var pattern pci.Pattern
	if fs.NArg() > 0 {
		f, err := pci.ParseFilter(strings.Join(fs.Args(), " "))
		if err != nil {
			log.Fatalln(err)
		}
		pattern = f
	} else if len(conf.Rules) > 0 {
		pattern, err = conf.MatchRules()
		if err != nil {
			log.Fatalln(err)
		}
	}

	opts, err := conf.Options()
	if err != nil {
		log.Fatalln(err)
	}
	sys, err := pci.Open(opts...)
	if err != nil {
		log.Fatalln(err)
	}
	defer sys.Cleanup()

	it, err := sys.Iterator(pattern)
	if err != nil {
		log.Fatalln(err)
	}
	var dumps []deviceDump
	for d, tag := range it.All() {
		dumps = append(dumps, dumpDevice(d, tag))
	}
	if *asYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(dumps); err != nil {
			log.Fatalln(err)
		}
		enc.Close()
		return
	}
	for i := range dumps {
		printDevice(&dumps[i])
	}
}
