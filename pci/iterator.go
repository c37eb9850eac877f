package pci

import "iter"

// Iterator walks the devices of a System matching a Pattern, in discovery
// order. It is single pass: once exhausted or closed it yields nothing,
// and a second walk needs a new Iterator. Closing it never affects the
// devices, which stay owned by the System.
type Iterator struct {
	sys     *System
	gen     uint64
	devices []*Device
	pattern Pattern
	pos     int
	tag     any
	closed  bool
}

// Iterator returns an iterator over the devices matching p. A nil p
// matches every device.
func (s *System) Iterator(p Pattern) (*Iterator, error) {
	if !s.ready {
		return nil, ErrNotInitialized
	}
	if p == nil {
		p = anyPattern{}
	}
	return &Iterator{sys: s, gen: s.gen, devices: s.devices, pattern: p}, nil
}

// IteratorString returns an iterator over the devices matching the filter
// string, see ParseFilter. An empty string matches every device.
func (s *System) IteratorString(filter string) (*Iterator, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.Iterator(f)
}

// Next returns the next matching device, or nil when the walk is over, the
// iterator is closed or its System has been cleaned up.
func (it *Iterator) Next() *Device {
	it.tag = nil
	if it.closed || !it.sys.ready || it.gen != it.sys.gen {
		return nil
	}
	for it.pos < len(it.devices) {
		d := it.devices[it.pos]
		it.pos++
		if tag, ok := it.pattern.MatchDevice(d); ok {
			it.tag = tag
			return d
		}
	}
	it.Close()
	return nil
}

// Tag returns the tag of the pattern rule that matched the device last
// returned by Next.
func (it *Iterator) Tag() any { return it.tag }

// Close releases the iterator.
func (it *Iterator) Close() {
	it.closed = true
	it.devices = nil
}

// All drains the iterator as a range-over-func sequence of devices and
// their tags.
func (it *Iterator) All() iter.Seq2[*Device, any] {
	return func(yield func(*Device, any) bool) {
		for d := it.Next(); d != nil; d = it.Next() {
			if !yield(d, it.tag) {
				return
			}
		}
	}
}
