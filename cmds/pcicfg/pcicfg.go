package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/lprylli/pciaccess/hwconf"
	"github.com/lprylli/pciaccess/pci"
)

func usage(fs *pflag.FlagSet) {
	log.Printf("usage: pcicfg [options] <device> <reg>[.b|.w|.l][=value] ...\n")
	log.Printf("       pcicfg [options] -d <filter> <reg>[.b|.w|.l][=value] ...\n")
	log.Printf("       pcicfg [options] --dump <device>\n")
	fs.PrintDefaults()
	os.Exit(1)
}

type regOp struct {
	off   int
	width byte
	write bool
	val   uint32
}

func parseOp(s string) (op regOp, err error) {
	loc, val, hasVal := strings.Cut(s, "=")
	reg, w, hasWidth := strings.Cut(loc, ".")
	op.width = 'l'
	if hasWidth {
		if len(w) != 1 || !strings.ContainsRune("bwlBWL", rune(w[0])) {
			return op, fmt.Errorf("bad width %q", w)
		}
		op.width = w[0] | 0x20
	}
	off, err := strconv.ParseUint(reg, 16, 16)
	if err != nil {
		return op, fmt.Errorf("bad register %q", reg)
	}
	op.off = int(off)
	if hasVal {
		v, err := strconv.ParseUint(val, 16, 32)
		if err != nil {
			return op, fmt.Errorf("bad value %q", val)
		}
		op.write, op.val = true, uint32(v)
	}
	return op, nil
}

func (op regOp) apply(d *pci.Device) error {
	if op.write {
		switch op.width {
		case 'b':
			return d.WriteConfig8(op.off, uint8(op.val))
		case 'w':
			return d.WriteConfig16(op.off, uint16(op.val))
		}
		return d.WriteConfig32(op.off, op.val)
	}
	switch op.width {
	case 'b':
		v, err := d.ReadConfig8(op.off)
		if err == nil {
			fmt.Printf("%s %03x: %02x\n", d.Address, op.off, v)
		}
		return err
	case 'w':
		v, err := d.ReadConfig16(op.off)
		if err == nil {
			fmt.Printf("%s %03x: %04x\n", d.Address, op.off, v)
		}
		return err
	}
	v, err := d.ReadConfig32(op.off)
	if err == nil {
		fmt.Printf("%s %03x: %08x\n", d.Address, op.off, v)
	}
	return err
}

// dumpConfig prints the configuration space the way lspci -xxxx does.
func dumpConfig(d *pci.Device) error {
	b, err := d.ReadConfig(0, d.ConfigSize())
	if err != nil {
		return err
	}
	fmt.Printf("%s %04x:%04x\n", d.Address, d.VendorID, d.DeviceID)
	for off := 0; off < len(b); off += 16 {
		fmt.Printf("%03x:", off)
		for _, c := range b[off:min(off+16, len(b))] {
			fmt.Printf(" %02x", c)
		}
		fmt.Println()
	}
	return nil
}

func main() {
	fs := pflag.NewFlagSet("pcicfg", pflag.ExitOnError)
	hwconf.AddFlags(fs)
	filter := fs.StringP("filter", "d", "", "Apply to every device matching this filter")
	dump := fs.Bool("dump", false, "Dump the whole configuration space")
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if *filter == "" && len(args) == 0 {
		usage(fs)
	}
	conf, err := hwconf.FromFlags(fs)
	if err != nil {
		log.Fatalln(err)
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

	var devs []*pci.Device
	if *filter != "" {
		it, err := sys.IteratorString(*filter)
		if err != nil {
			log.Fatalln(err)
		}
		for d := it.Next(); d != nil; d = it.Next() {
			devs = append(devs, d)
		}
	} else {
		addr, err := pci.ParseAddress(args[0])
		if err != nil {
			log.Fatalf("cannot parse %s: %s\n", args[0], err)
		}
		d := sys.Lookup(addr)
		if d == nil {
			log.Fatalf("no device %s\n", addr)
		}
		devs = append(devs, d)
		args = args[1:]
	}

	var ops []regOp
	for _, a := range args {
		op, err := parseOp(a)
		if err != nil {
			log.Fatalln(err)
		}
		ops = append(ops, op)
	}
	if !*dump && len(ops) == 0 {
		usage(fs)
	}
	for _, d := range devs {
		if *dump {
			if err := dumpConfig(d); err != nil {
				log.Fatalln(err)
			}
		}
		for _, op := range ops {
			if err := op.apply(d); err != nil {
				log.Fatalln(err)
			}
		}
	}
}
