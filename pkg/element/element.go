// Package element defines the fixed-size tagged-union record that
// backs every graph vertex the storage engine manages: nodes, links
// (content-bearing literals), and arcs (typed directed edges).
//
// A live element's Type is non-zero; a freed or never-written slot has
// Type == 0. Every element additionally carries the head pointers of
// its two doubly-linked incidence lists (FirstOutArc, FirstInArc),
// whether or not it is itself an arc, arcs need them to splice
// siblings, nodes and links need them to know their own incident arcs.
package element

import "github.com/latticegraph/lattice/pkg/address"

// Type is the tagged-union discriminant. It packs an element-kind
// (mutually exclusive, bits 0-3), an arc-mask bit (bit 4, set on every
// arc kind), and caller-defined subtype bits (bits 8-31, opaque to the
// engine).
type Type uint32

// Element-kind bits. Zero means "free slot", never a valid live type.
const (
	KindNode          Type = 1
	KindLink          Type = 2
	KindArcCommon     Type = 3
	KindArcAccess     Type = 4
	KindArcMembership Type = 5
)

// ArcMaskBit is set on every arc element-kind, letting callers test
// "is this any kind of arc" without enumerating each arc kind.
const ArcMaskBit Type = 1 << 4

// ElementKindMask covers every bit ChangeElementSubtype refuses to
// touch: the four kind bits plus the arc-mask bit.
const ElementKindMask Type = 0x1F

// SubtypeMask covers the caller-defined bits ChangeElementSubtype is
// allowed to rewrite freely.
const SubtypeMask Type = ^ElementKindMask

// Kind returns the element-kind bits of t, stripped of subtype bits.
func (t Type) Kind() Type { return t & 0x0F }

// IsArc reports whether t names any arc kind.
func (t Type) IsArc() bool { return t&ArcMaskBit != 0 }

// IsNode reports whether t names a node.
func (t Type) IsNode() bool { return t.Kind() == KindNode }

// IsLink reports whether t names a link.
func (t Type) IsLink() bool { return t.Kind() == KindLink }

// Subtype returns the subtype bits of t.
func (t Type) Subtype() Type { return t & SubtypeMask }

// arcKind ORs the arc-mask bit onto a caller-supplied arc kind so
// callers can pass either the bare kind or an already-masked type.
func arcKind(kind Type) Type {
	return kind | ArcMaskBit
}

// ChecksumLen is the fixed width of a link's content digest, sized for
// the default BLAKE2b-256 checksum implementation.
const ChecksumLen = 32

// Element is one graph vertex slot. Node, Link, and Arc payload fields
// coexist in the same struct (a tagged union in the style of a C
// variant record); which fields are meaningful is determined entirely
// by Type. This trades a few unused words per node/link slot for a
// fixed element size, letting Segment store elements in a flat array
// with O(1) offset addressing.
type Element struct {
	Type Type

	// Link payload: content checksum. Meaningful only when Type.IsLink().
	Checksum [ChecksumLen]byte

	// Arc payload. Meaningful only when Type.IsArc().
	Begin        address.Address
	End          address.Address
	NextOutArc   address.Address // position in Begin's out-list
	PrevOutArc   address.Address
	NextInArc    address.Address // position in End's in-list
	PrevInArc    address.Address

	// Incidence list heads, present on every element regardless of kind:
	// a node's or link's own incident arcs, or an arc's own (rarely
	// used, but kept uniform) incidence heads.
	FirstOutArc address.Address
	FirstInArc  address.Address
}

// Reset zeroes e in place, marking the slot free.
func (e *Element) Reset() {
	*e = Element{}
}

// IsLive reports whether e currently holds a live element.
func (e *Element) IsLive() bool {
	return e.Type != 0
}

// NodeTemplate returns a template Element for NodeNew(subtype).
func NodeTemplate(subtype Type) Element {
	return Element{Type: KindNode | subtype.Subtype()}
}

// LinkTemplate returns a template Element for LinkNew().
func LinkTemplate() Element {
	return Element{Type: KindLink}
}

// ArcTemplate returns a template Element for ArcNew(kind, begin, end).
// The out/in sibling fields are left empty; Storage.ArcNew fills them
// in once it holds the locks needed to splice the incidence lists.
func ArcTemplate(kind Type, begin, end address.Address) Element {
	return Element{
		Type:  arcKind(kind),
		Begin: begin,
		End:   end,
	}
}
