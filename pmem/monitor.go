package pmem

import (
	"context"
	"time"
)

// Monitor watches one 32-bit register. Bits set in Mask are ignored.
type Monitor struct {
	R    Region
	Off  int64
	Mask uint32
	Aux  any

	oldVal   uint32
	oldValid bool
}

// Change records one observed transition of a watched register.
type Change struct {
	Time   time.Duration // since the start of Watch
	Delay  time.Duration // since the previous change
	Region string
	Off    int64
	Old    uint32
	New    uint32
	Mask   uint32
	Mon    *Monitor
}

const (
	batchMax   = 200
	batchDelay = 5 * time.Second
)

// Watch polls mons every interval, or continuously when interval is 0,
// and hands changes to batch in groups. A group is delivered when it holds
// 200 changes, when its first change is 5s old, and when Watch returns.
// batch must not retain the slice. Watch returns ctx.Err() on
// cancellation or the first read error.
func Watch(ctx context.Context, mons []*Monitor, interval time.Duration, batch func([]Change)) error {
	change := make([]Change, 0, batchMax)
	start := time.Now()
	var last time.Duration
	flush := func() {
		if len(change) > 0 {
			batch(change)
			change = change[:0]
		}
	}
	defer flush()

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Since(start)
		for _, m := range mons {
			val, err := m.R.Read32(m.Off)
			if err != nil {
				return err
			}
			if m.oldValid && val&^m.Mask != m.oldVal&^m.Mask {
				change = append(change, Change{
					Time: now, Delay: now - last,
					Region: m.R.Name(), Off: m.Off,
					Old: m.oldVal, New: val, Mask: m.Mask, Mon: m,
				})
				last = now
			}
			m.oldValid = true
			m.oldVal = val
		}
		if len(change) >= batchMax || (len(change) > 0 && now-change[0].Time >= batchDelay) {
			flush()
		}
	}
}
