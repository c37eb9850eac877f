package pmem_test

import (
	"context"
	"errors"
	"time"

	"github.com/lprylli/pciaccess/pmem"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// scriptedRegion returns successive values on each Read32, then keeps
// returning the last one and cancels.
type scriptedRegion struct {
	*pmem.MemRegion
	vals   []uint32
	cancel context.CancelFunc
	err    error
}

func (r *scriptedRegion) Read32(off int64) (uint32, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(r.vals) == 0 {
		r.cancel()
		return 0, nil
	}
	v := r.vals[0]
	if len(r.vals) > 1 {
		r.vals = r.vals[1:]
	} else {
		r.cancel()
	}
	return v, nil
}

var _ = Describe("Watch", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
	})

	region := func(vals ...uint32) *scriptedRegion {
		return &scriptedRegion{
			MemRegion: pmem.NewMemRegion("bar0", make([]byte, 16), false),
			vals:      vals,
			cancel:    cancel,
		}
	}

	It("should report changes outside the mask", func() {
		r := region(0x10, 0x10, 0x11, 0x111, 0x100)
		mon := &pmem.Monitor{R: r, Off: 4, Mask: 0x100, Aux: "status"}

		var got []pmem.Change
		err := pmem.Watch(ctx, []*pmem.Monitor{mon}, 0, func(c []pmem.Change) {
			got = append(got, c...)
		})
		Expect(err).To(MatchError(context.Canceled))
		Expect(got).To(HaveLen(2))
		Expect(got[0].Old).To(Equal(uint32(0x10)))
		Expect(got[0].New).To(Equal(uint32(0x11)))
		Expect(got[0].Region).To(Equal("bar0"))
		Expect(got[0].Off).To(Equal(int64(4)))
		Expect(got[0].Mon.Aux).To(Equal("status"))
		Expect(got[1].Old).To(Equal(uint32(0x111)))
		Expect(got[1].New).To(Equal(uint32(0x100)))
		Expect(got[1].Time).To(BeNumerically(">=", got[0].Time))
	})

	It("should deliver full batches without waiting", func() {
		vals := make([]uint32, 451)
		for i := range vals {
			vals[i] = uint32(i)
		}
		var sizes []int
		err := pmem.Watch(ctx, []*pmem.Monitor{{R: region(vals...)}}, 0, func(c []pmem.Change) {
			sizes = append(sizes, len(c))
		})
		Expect(err).To(MatchError(context.Canceled))
		Expect(sizes).To(Equal([]int{200, 200, 50}))
	})

	It("should stop on read errors", func() {
		r := region()
		r.err = errors.New("bus error")
		err := pmem.Watch(ctx, []*pmem.Monitor{{R: r}}, time.Millisecond, func([]pmem.Change) {
			Fail("no change expected")
		})
		Expect(err).To(MatchError("bus error"))
	})

	It("should poll on the interval until cancelled", func() {
		r := region(1, 2)
		var got []pmem.Change
		err := pmem.Watch(ctx, []*pmem.Monitor{{R: r}}, time.Millisecond, func(c []pmem.Change) {
			got = append(got, c...)
		})
		Expect(err).To(MatchError(context.Canceled))
		Expect(got).To(HaveLen(1))
		Expect(got[0].Delay).To(Equal(got[0].Time))
	})
})
