package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/lprylli/pciaccess/hwconf"
	"github.com/lprylli/pciaccess/pci"
	"github.com/lprylli/pciaccess/pmem"
)

func ReadFull(f io.Reader, b []byte) {
	if _, err := io.ReadFull(f, b); err != nil {
		log.Fatalf("ReadFull(%d):%s", len(b), err)
	}
}

func usage(fs *pflag.FlagSet) {
	log.Printf("usage: barpoke [options] <device> <bar> <offset>.<spec> [ <newval> ]\n")
	log.Printf("  spec is 1/b, 2/w, 4/l, 8/q or a byte count for block transfers\n")
	fs.PrintDefaults()
	os.Exit(1)
}

func peek(r pmem.Region, off int64, mod byte) (res uint64, err error) {
	switch mod {
	case '8', 'q', 'Q':
		res, err = r.Read64(off)
	case '4', 'l', 'L':
		var v uint32
		v, err = r.Read32(off)
		res = uint64(v)
	case '2', 'w', 'W':
		var v uint16
		v, err = r.Read16(off)
		res = uint64(v)
	case '1', 'b', 'B':
		var v uint8
		v, err = r.Read8(off)
		res = uint64(v)
	default:
		err = fmt.Errorf("bad access spec %q", mod)
	}
	return
}

func poke(r pmem.Region, off int64, mod byte, val uint64) error {
	switch mod {
	case '8', 'q', 'Q':
		return r.Write64(off, val)
	case '4', 'l', 'L':
		return r.Write32(off, uint32(val))
	case '2', 'w', 'W':
		return r.Write16(off, uint16(val))
	case '1', 'b', 'B':
		return r.Write8(off, uint8(val))
	}
	return fmt.Errorf("bad access spec %q", mod)
}

func monitor(r pmem.Region, off int64, mask uint32) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	mons := []*pmem.Monitor{{R: r, Off: off, Mask: mask}}
	err := pmem.Watch(ctx, mons, 0, func(c []pmem.Change) {
		for _, v := range c {
			fmt.Printf("%8dus %s[%#x] %#08x -> %#08x (changed %#08x)\n",
				v.Delay.Microseconds(), v.Region, v.Off, v.Old, v.New, v.Old^v.New)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}

func main() {
	var write, wflag bool
	var val uint64

	fs := pflag.NewFlagSet("barpoke", pflag.ExitOnError)
	hwconf.AddFlags(fs)
	mon := fs.Bool("mon", false, "Monitor the 32-bit register at offset until interrupted")
	monMask := fs.Uint32("mask", 0, "Bits ignored by --mon")
	dump := fs.Int("dump", 0, "Dump this many bytes of registers from offset")
	fs.BoolVarP(&wflag, "write", "w", false, "Write block from stdin (used with off.n)")
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 3 || len(args) > 4 {
		usage(fs)
	}
	conf, err := hwconf.FromFlags(fs)
	if err != nil {
		log.Fatalln(err)
	}
	addr, err := pci.ParseAddress(args[0])
	if err != nil {
		log.Fatalf("cannot parse %s: %s\n", args[0], err)
	}
	bar, err := strconv.Atoi(args[1])
	if err != nil {
		log.Fatalf("cannot parse bar %s\n", args[1])
	}
	locs := strings.Split(args[2], ".")
	off, err := strconv.ParseInt(locs[0], 0, 64)
	if err != nil {
		log.Fatalf("cannot parse %s\n", locs[0])
	}
	if len(args) == 4 {
		write = true
		val, err = strconv.ParseUint(args[3], 0, 64)
		if err != nil {
			log.Fatalf("cannot parse %s\n", args[3])
		}
	}
	var mod byte
	var ioLen int64
	if len(locs) == 1 {
		mod = 'L'
	} else if len(locs[1]) == 1 {
		mod = locs[1][0]
	} else {
		ioLen, err = strconv.ParseInt(locs[1], 0, 32)
		if err != nil || ioLen <= 0 || ioLen%4 != 0 {
			log.Fatalf("bad block length %s\n", locs[1])
		}
		write = wflag
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
	d := sys.Lookup(addr)
	if d == nil {
		log.Fatalf("%s: no such device\n", addr)
	}
	if err := d.Probe(); err != nil {
		log.Fatalln(err)
	}
	if err := d.MapRegion(bar, write); err != nil {
		log.Fatalln(err)
	}
	data := d.Regions[bar].Memory()

	switch {
	case *mon:
		monitor(data, off, *monMask)
	case *dump > 0:
		dumpRegion(data, off, int64(*dump))
	case mod != 0 && write:
		if err := poke(data, off, mod, val); err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("%s/%d[%#x].%c := %#x\n", addr, bar, off, mod, val)
	case mod != 0:
		res, err := peek(data, off, mod)
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("%s/%d[%#x].%c = %#x\n", addr, bar, off, mod, res)
	case write:
		b := make([]byte, ioLen)
		ReadFull(os.Stdin, b)
		for i := int64(0); i < ioLen; i += 4 {
			if err := data.Write32(off+i, binary.LittleEndian.Uint32(b[i:])); err != nil {
				log.Fatalln(err)
			}
		}
	default:
		out := bufio.NewWriter(os.Stdout)
		for i := int64(0); i < ioLen; i += 4 {
			v, err := data.Read32(off + i)
			if err != nil {
				log.Fatalln(err)
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], v)
			if _, err := out.Write(b[:]); err != nil {
				log.Fatal(err)
			}
		}
		if err := out.Flush(); err != nil {
			log.Fatal(err)
		}
	}
}
