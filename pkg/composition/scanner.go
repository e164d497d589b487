package composition

import "github.com/citymesh/meshcfg-go/pkg/wire"

// DefaultVendorBoundary is the lowest model ID treated as a city service
// model. Service model IDs double as group addresses, so they live in the
// group range.
const DefaultVendorBoundary uint16 = 0xC000

// Predicate selects vendor models during a scan.
type Predicate func(wire.ModelID) bool

// MinModelID matches vendor models whose model ID is at least min.
func MinModelID(min uint16) Predicate {
	return func(m wire.ModelID) bool {
		return m.ModelID >= min
	}
}

// Cursor is the resumable position of a vendor model scan.
// The zero value starts at the first element.
type Cursor struct {
	started   bool
	exhausted bool

	element   int // index of the current element
	next      int // byte offset of the next vendor model to read
	remaining int // vendor models left in the current element
}

// Reset rewinds the cursor to the first element.
func (c *Cursor) Reset() {
	*c = Cursor{}
}

// Exhausted reports whether the scan has reached the end of the record.
func (c *Cursor) Exhausted() bool {
	return c.exhausted
}

// Element returns the index of the element the cursor is in.
func (c *Cursor) Element() int {
	return c.element
}

// FindNextVendorModel returns the next vendor model in r at or after c that
// satisfies match, advancing c past it. A nil match accepts every vendor model.
//
// When the walk reaches the end of the record, or a field would extend past
// it, the cursor is marked exhausted and false is returned; later calls
// return false without touching the record.
func FindNextVendorModel(r Record, c *Cursor, match Predicate) (wire.ModelID, bool) {
	if c.exhausted {
		return wire.ModelID{}, false
	}
	if !c.started {
		c.started = true
		if !c.enter(r.Data, HeaderSize) {
			return wire.ModelID{}, false
		}
	}

	for {
		for c.remaining > 0 {
			if c.next+VendorModelSize > len(r.Data) {
				c.exhaust()
				return wire.ModelID{}, false
			}
			m := readVendorModel(r.Data, c.next)
			c.next += VendorModelSize
			c.remaining--
			if match == nil || match(m) {
				return m, true
			}
		}

		// The next element header follows the current vendor model array.
		c.element++
		if !c.enter(r.Data, c.next) {
			return wire.ModelID{}, false
		}
	}
}

func (c *Cursor) enter(data []byte, off int) bool {
	eh, ok := readElementHeader(data, off)
	if !ok {
		c.exhaust()
		return false
	}
	c.next = eh.vendorOffset
	c.remaining = int(eh.numVendor)
	return true
}

func (c *Cursor) exhaust() {
	c.exhausted = true
	c.remaining = 0
}
