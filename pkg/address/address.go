// Package address provides the compact, stable element identity used
// throughout the lattice storage engine.
//
// An Address is a value type: cheap to copy, compare, and use as a map
// key. It never allocates and carries no pointer, so it is safe to hand
// to callers without aliasing concerns.
package address

import "fmt"

// Address identifies a single element slot: the segment it lives in and
// its offset within that segment. Addresses are stable for the lifetime
// of the element they name, freeing an element and later reusing its
// slot produces a new logical element, but callers holding a stale
// Address will simply find that Storage no longer recognizes it as live.
type Address struct {
	Segment uint32
	Offset  uint32
}

// Empty is the distinguished "no address" value. Both fields zero by
// convention: segment 0, offset 0 is never handed out as a real element
// address because Segment 0's offset 0 slot is reserved (see
// storage.Storage.Initialize).
var Empty = Address{}

// IsEmpty reports whether a equals the distinguished empty address.
func (a Address) IsEmpty() bool {
	return a == Empty
}

// String renders the address as "seg:offset", or "-" for Empty.
func (a Address) String() string {
	if a.IsEmpty() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", a.Segment, a.Offset)
}

// New constructs an Address from a segment index and slot offset.
func New(segment, offset uint32) Address {
	return Address{Segment: segment, Offset: offset}
}

// Parse parses the "seg:offset" form produced by String. "-" and ""
// both parse as Empty, letting callers round-trip a config or template
// file field that was left blank.
func Parse(s string) (Address, error) {
	if s == "" || s == "-" {
		return Empty, nil
	}
	var seg, offset uint32
	if _, err := fmt.Sscanf(s, "%d:%d", &seg, &offset); err != nil {
		return Address{}, fmt.Errorf("address: invalid %q: %w", s, err)
	}
	return Address{Segment: seg, Offset: offset}, nil
}
