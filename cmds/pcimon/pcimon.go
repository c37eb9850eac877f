package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/lprylli/pciaccess/hwconf"
	"github.com/lprylli/pciaccess/pci"
)

// PciDev is a device at one end of a monitored link.
type PciDev struct {
	*pci.Device
	exp      int // pcie capability offset
	aer      int // aer extended capability offset
	errs     int64
	corrErrs [32]int64
	uncErrs  [32]int64

	lnkSpeed, lnkWidth       int
	lnkCapSpeed, lnkCapWidth int
}

// Link is a pcie link from a downstream port to the device below it.
type Link struct {
	Up, Down *PciDev
}

var aerCorrErrDesc = map[int]string{
	0: "rcv-error", 6: "bad-tlp", 7: "bad-dllp",
	8: "replay-rollover", 12: "replay-timer", 13: "advisory-nf",
	15: "log-overflow"}

var aerUncErrDesc = map[int]string{
	4: "data-link-error", 5: "surprise-down", 12: "poisoned-tlp",
	13: "flow-ctl", 14: "cpl-timeout", 15: "cpl-abort",
	16: "unexp-cpl", 17: "rcv-overflow", 18: "malformed-tlp", 20: "UR", 21: "ACS-err"}

var pciExpErrDesc = map[int]string{
	0: "corr", 1: "nonFatal", 2: "Fatal", 3: "UR",
}

var aerUncUrMask uint32 = 1 << 20                // mask UR
var aerCorrUrMask uint32 = (1 << 13) | (1 << 15) // mask nf-advisory + log-overflow (set by UR evt).
var devExpErrMask uint16 = 0x9                   // mask UR+corr
var verbose bool

func newDev(d *pci.Device) *PciDev {
	p := &PciDev{Device: d}
	if off, ok, err := d.FindCapability(pci.PCI_CAP_ID_EXP); err == nil && ok {
		p.exp = off
	}
	if off, ok, err := d.FindExtCapability(pci.PCI_ECAP_ID_AER); err == nil && ok {
		p.aer = off
	}
	return p
}

func (d *PciDev) getSpeed() {
	if d.exp == 0 {
		return
	}
	if sta, err := d.ReadConfig16(d.exp + pci.PCI_EXP_LNKSTA); err == nil {
		d.lnkSpeed = int(sta & 0xf)
		d.lnkWidth = int((sta >> 4) & 0x3f)
	}
	if lcap, err := d.ReadConfig32(d.exp + pci.PCI_EXP_LNKCAP); err == nil {
		d.lnkCapSpeed = int(lcap & 0xf)
		d.lnkCapWidth = int((lcap >> 4) & 0x3f)
	}
}

// clearBits reads a RW1C status register, clears the reported bits and
// counts them in cnt.
func clearBits(d *PciDev, reg int, mask uint32, cnt *[32]int64) (errors int64, err error) {
	val, err := d.ReadConfig32(reg)
	if err != nil {
		return 0, err
	}
	val &^= mask
	if val == 0 {
		return 0, nil
	}
	if err := d.WriteConfig32(reg, val); err != nil {
		return 0, err
	}
	for i := 0; val != 0; i++ {
		if val&1 != 0 {
			cnt[i]++
			errors++
		}
		val >>= 1
	}
	d.errs += errors
	return errors, nil
}

func errPoll(d *PciDev) int64 {
	corr, err := clearBits(d, d.aer+pci.PCI_ERR_COR_STATUS, aerCorrUrMask, &d.corrErrs)
	if err != nil {
		log.Fatalln(err)
	}
	unc, err := clearBits(d, d.aer+pci.PCI_ERR_UNCOR_STATUS, aerUncUrMask, &d.uncErrs)
	if err != nil {
		log.Fatalln(err)
	}
	return corr + unc
}

func statsGen(duration time.Duration, errs []int64, errMap map[int]string, errType string) {
	for i := 0; i < 32; i++ {
		if errs[i] > 0 {
			errDesc := errMap[i]
			if errDesc == "" {
				errDesc = fmt.Sprintf("%s-%d", errType, i)
			}
			fmt.Printf("    %s, count=%d: rate=%g err/s\n",
				errDesc, errs[i], float64(errs[i])/duration.Seconds())
		}
	}
}

func stats(d *PciDev, duration time.Duration) {
	fmt.Printf("%s:\n", d.Address)
	statsGen(duration, d.corrErrs[:], aerCorrErrDesc, "corr")
	statsGen(duration, d.uncErrs[:], aerUncErrDesc, "unc")
	fmt.Printf("\n\n")
}

// findLinks pairs every bridge with function 0 of its secondary bus.
func findLinks(sys *pci.System) (links []*Link) {
	devs, err := sys.Devices()
	if err != nil {
		log.Fatalln(err)
	}
	for _, d := range devs {
		if d.HeaderType != pci.PCI_HEADER_TYPE_BRIDGE {
			continue
		}
		sec, err := d.ReadConfig8(pci.PCI_SECONDARY_BUS)
		if err != nil || sec == 0 {
			continue
		}
		child := sys.Lookup(pci.Address{Domain: d.Domain, Bus: sec})
		if child == nil {
			continue
		}
		links = append(links, &Link{Up: newDev(d), Down: newDev(child)})
	}
	return
}

func showLinks(sys *pci.System, aer bool) []*Link {
	var links []*Link
	for _, l := range findLinks(sys) {
		d, c := l.Up, l.Down
		if verbose {
			log.Printf("%s:%d:%d\n", d.Address, d.aer, c.aer)
		}
		// Exception for some AMD GPP root port not advertising AER (1022:1483), and blacklist internal pcie links (1022:1484)
		upQual := (d.aer > 0 && (d.VendorID != 0x1022 || d.DeviceID != 0x1484)) || (!aer && d.VendorID == 0x1022 && d.DeviceID == 0x1483)
		if !upQual || c.aer == 0 || d.exp == 0 {
			continue
		}
		d.getSpeed()
		c.getSpeed()
		var other string
		var buggy bool
		if c.lnkWidth != d.lnkWidth || c.lnkSpeed != d.lnkSpeed {
			other += fmt.Sprintf("down=x%d.gen%d ", c.lnkWidth, c.lnkSpeed)
			buggy = true
		}
		buggy = buggy || d.lnkWidth != min(d.lnkCapWidth, c.lnkCapWidth) || d.lnkSpeed != min(d.lnkCapSpeed, c.lnkCapSpeed)
		if buggy || verbose {
			other += fmt.Sprintf("upcap=x%d.gen%d ", d.lnkCapWidth, d.lnkCapSpeed)
			other += fmt.Sprintf("downcap=x%d.gen%d", c.lnkCapWidth, c.lnkCapSpeed)
		}
		fmt.Printf("%s <-> %s %04x:%04x (x%d.gen%d) %s\n", d.Address, c.Address, c.VendorID, c.DeviceID, d.lnkWidth, d.lnkSpeed, other)
		links = append(links, l)
	}
	return links
}

func monLinks(sys *pci.System, nbIter int, delay time.Duration) {
	links := showLinks(sys, true)
	var totalErrors int64
	// prevLinksWithErr records whether any error was seen on a link in the
	// previous iteration, to include it in the next high-frequency phase.
	prevLinksWithErr := make(map[*Link]bool)
	log.Printf("Monitoring %d links\n", len(links))

	// Each iteration lasts about one second, and has two phases:
	//  first we poll every link
	//  then we poll every link that has recently seen error at higher frequency.
	globalStart := time.Now()
	for i := 0; i < nbIter || nbIter == -1; i++ {
		var errors int64
		var linksWithErr []*Link

		for _, l := range links {
			lnkErr := errPoll(l.Up) + errPoll(l.Down)
			errors += lnkErr
			if lnkErr > 0 || prevLinksWithErr[l] {
				linksWithErr = append(linksWithErr, l)
			}
			prevLinksWithErr[l] = lnkErr > 0
		}
		start := time.Now()
		if len(linksWithErr) > 0 {
			for time.Since(start) < time.Second {
				for _, l := range linksWithErr {
					lnkErr := errPoll(l.Up) + errPoll(l.Down)
					errors += lnkErr
					// not reset to false in the high-frequency phase
					if lnkErr > 0 {
						prevLinksWithErr[l] = true
					}
				}
				time.Sleep(delay)
			}
		} else {
			time.Sleep(max(delay, time.Second))
		}
		totalErrors += errors
		log.Printf("Errors=%d (total=%d)\n", errors, totalErrors)
	}
	duration := time.Since(globalStart)
	for _, l := range links {
		for _, d := range []*PciDev{l.Up, l.Down} {
			if d.errs > 0 {
				stats(d, duration)
			}
		}
	}
}

func bitStatus(val uint64, desc map[int]string) string {
	var res string
	for i := 0; val != 0; i++ {
		if val&1 != 0 {
			if s, ok := desc[i]; ok {
				res += s + "+ "
			} else {
				res += fmt.Sprintf("bit-%d ", i)
			}
		}
		val >>= 1
	}
	return res
}

func errReport(d *PciDev, clear bool) (report []string, err error) {
	stat, err := d.ReadConfig16(pci.PCI_STATUS)
	if err != nil {
		return nil, err
	}
	if stat&pci.PCI_STATUS_SERR != 0 {
		report = append(report, "Sta: SERR")
		if clear {
			if err := d.WriteConfig16(pci.PCI_STATUS, pci.PCI_STATUS_SERR); err != nil {
				return nil, err
			}
		}
	}
	if d.exp > 0 {
		devStatReg := d.exp + pci.PCI_EXP_DEVSTA
		eStat, err := d.ReadConfig16(devStatReg)
		if err != nil {
			return nil, err
		}
		eStat &= 0xf &^ devExpErrMask
		if eStat != 0 {
			report = append(report, fmt.Sprintf("DevExtSta: %s", bitStatus(uint64(eStat), pciExpErrDesc)))
			if clear {
				if err := d.WriteConfig16(devStatReg, eStat); err != nil {
					return nil, err
				}
			}
		}
	}
	if d.aer > 0 {
		for _, r := range []struct {
			name string
			reg  int
			mask uint32
			desc map[int]string
		}{
			{"AerUncSta", d.aer + pci.PCI_ERR_UNCOR_STATUS, aerUncUrMask, aerUncErrDesc},
			{"AerCorrSta", d.aer + pci.PCI_ERR_COR_STATUS, aerCorrUrMask, aerCorrErrDesc},
		} {
			eStat, err := d.ReadConfig32(r.reg)
			if err != nil {
				return nil, err
			}
			eStat &^= r.mask
			if eStat == 0 {
				continue
			}
			report = append(report, fmt.Sprintf("%s: %s", r.name, bitStatus(uint64(eStat), r.desc)))
			if clear {
				if err := d.WriteConfig32(r.reg, eStat); err != nil {
					return nil, err
				}
			}
		}
	}
	return report, nil
}

func errBrowse(sys *pci.System, clear bool) {
	devs, err := sys.Devices()
	if err != nil {
		log.Fatalln(err)
	}
	for _, d := range devs {
		report, err := errReport(newDev(d), clear)
		if err != nil {
			log.Printf("%s: %v", d.Address, err)
			continue
		}
		if report != nil {
			fmt.Printf("%s %04x:%04x:\n", d.Address, d.VendorID, d.DeviceID)
			for _, s := range report {
				fmt.Printf("    %s\n", s)
			}
		}
	}
}

func main() {
	fs := pflag.NewFlagSet("pcimon", pflag.ExitOnError)
	hwconf.AddFlags(fs)
	delayOpt := fs.Float64("delay", 0.01, "delay between polls of errored link for --mon")
	nbIter := fs.Int("iters", 5, "number of seconds/iterations for --mon")
	monLinkOpt := fs.Bool("mon", false, "monitor link for errors")
	errShowOpt := fs.Bool("err", false, "show err")
	clearErrOpt := fs.Bool("clearerr", false, "clear error status")
	optReportUR := fs.Bool("ur", false, "Do not ignore UR")
	fs.Parse(os.Args[1:])

	conf, err := hwconf.FromFlags(fs)
	if err != nil {
		log.Fatalln(err)
	}
	verbose = conf.Verbosity > 0
	if *optReportUR {
		aerCorrUrMask = 0
		aerUncUrMask = 0
		devExpErrMask = 0
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

	if *monLinkOpt {
		monLinks(sys, *nbIter, time.Duration(*delayOpt*1e9))
	}
	if *errShowOpt {
		errBrowse(sys, false)
	}
	if *clearErrOpt {
		errBrowse(sys, true)
	}
	if !*monLinkOpt && !*errShowOpt && !*clearErrOpt {
		showLinks(sys, false)
	}
}
