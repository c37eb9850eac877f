package main

import (
	"fmt"
	"log"

	"github.com/lprylli/pciaccess/pmem"
)

// dumpRegion prints n bytes of 32-bit registers starting at off.
func dumpRegion(m pmem.Region, off, n int64) {
	end := min(off+n, int64(m.Size()))
	for r := off &^ 3; r < end; r += 4 {
		v, err := m.Read32(r)
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("%s[%x]=0x%x\n", m.Name(), r, v)
	}
}
