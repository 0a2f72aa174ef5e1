// Package storage implements the concurrent, segmented element store:
// the core of the lattice semantic-graph engine. It owns the segment
// array and segment cache, and exposes every public operation on
// addresses, creating nodes, links, and arcs; cascading free; reading
// and updating element state; and materializing statistics.
//
// Persistence, event dispatch, and content hashing/storage are
// consumed through the Persistence, Events, Checksum, and ContentStore
// interfaces below. Default implementations live alongside this
// package (see events.go, checksum.go, contentstore.go, persistence.go)
// and are wired in via NewStorage's functional options, but callers
// may substitute their own, the core never assumes a concrete type.
package storage

import (
	"errors"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/element"
)

// Result mirrors the small closed set of outcome kinds as exported
// `Err*` sentinel values rather than a bespoke error type hierarchy.
type Result int

const (
	// resultOK is never returned as an error; operations return nil.
	resultOK Result = iota
	resultError
	resultInvalidType
	resultInvalidParams
	resultFull
)

func (r Result) Error() string {
	switch r {
	case resultError:
		return "lattice/storage: operation failed"
	case resultInvalidType:
		return "lattice/storage: invalid element type for operation"
	case resultInvalidParams:
		return "lattice/storage: invalid parameters"
	case resultFull:
		return "lattice/storage: no free element slot available"
	default:
		return "lattice/storage: ok"
	}
}

// Sentinel errors returned by public Storage operations.
var (
	// ErrGeneric covers lock-acquisition failures and other conditions
	// with no more specific Result kind, including invalid addresses
	// (segment index out of range, or a slot that was never allocated).
	ErrGeneric error = resultError
	// ErrInvalidType is returned when an operation is attempted on an
	// element of the wrong kind (e.g. arc endpoints requested on a node).
	ErrInvalidType error = resultInvalidType
	// ErrInvalidParams is returned when ChangeElementSubtype is asked
	// to touch element-kind bits.
	ErrInvalidParams error = resultInvalidParams
	// ErrFull is returned when allocation cannot find or create a
	// segment with a free slot under the configured segment cap.
	ErrFull error = resultFull

	// ErrNotInitialized is returned by any public operation invoked
	// before Initialize or after Shutdown.
	ErrNotInitialized = errors.New("lattice/storage: not initialized")
	// ErrAlreadyInitialized guards double-Initialize.
	ErrAlreadyInitialized = errors.New("lattice/storage: already initialized")
)

// EventKind names a point in the element lifecycle subscribers can
// observe. Payloads are always (subject, kind, object) address pairs.
type EventKind int

const (
	AddOutputArc EventKind = iota
	AddInputArc
	RemoveOutputArc
	RemoveInputArc
	RemoveElement
)

func (k EventKind) String() string {
	switch k {
	case AddOutputArc:
		return "ADD_OUTPUT_ARC"
	case AddInputArc:
		return "ADD_INPUT_ARC"
	case RemoveOutputArc:
		return "REMOVE_OUTPUT_ARC"
	case RemoveInputArc:
		return "REMOVE_INPUT_ARC"
	case RemoveElement:
		return "REMOVE_ELEMENT"
	default:
		return "UNKNOWN_EVENT"
	}
}

// Events is the event-dispatch collaborator the core emits named
// lifecycle events to. It is consumed, not owned: the dispatch
// subsystem itself lives outside the core.
type Events interface {
	// Emit fires kind with the given subject/object addresses.
	Emit(kind EventKind, subject, object address.Address)
	// NotifyElementDeleted is called once per element, immediately
	// before its slot is erased during a cascading free, so subscribers
	// holding external handles to the address can release them first.
	NotifyElementDeleted(addr address.Address)
}

// Checksum is the content-hashing collaborator used to address link
// content. It produces a fixed-width digest (element.ChecksumLen bytes).
type Checksum interface {
	Calculate(stream []byte) ([element.ChecksumLen]byte, error)
}

// ContentStore is the external byte-blob store link content is
// delegated to; SetLinkContent/GetLinkContent/FindLinksWithContent all
// bottom out here after the in-memory checksum bookkeeping.
type ContentStore interface {
	Put(checksum [element.ChecksumLen]byte, data []byte) error
	Get(checksum [element.ChecksumLen]byte) ([]byte, bool, error)
	FindByChecksum(checksum [element.ChecksumLen]byte) ([]address.Address, error)
	IndexAddress(checksum [element.ChecksumLen]byte, addr address.Address) error
}

// Persistence is the collaborator responsible for flushing the segment
// array to durable storage and reloading it on Initialize. The core
// treats it as opaque: persisted layout is entirely Persistence's
// concern.
type Persistence interface {
	// Open prepares the backing store at path, clearing prior contents
	// first when clear is true.
	Open(path string, clear bool) error
	// Load reconstructs previously persisted segments, if any.
	Load() ([]PersistedSegment, error)
	// SaveSegment persists (or updates) one segment's full contents.
	SaveSegment(seg PersistedSegment) error
	// Close flushes and releases the backing store. When save is false
	// the implementation may skip a final flush or discard what it has
	// stored; BadgerPersistence drops every persisted record.
	Close(save bool) error
}

// PersistedSegment is the wire-agnostic shape Persistence exchanges
// with Storage: one segment's number plus every live element in it,
// keyed by offset. Persistence implementations decide how this maps
// onto their own storage format.
type PersistedSegment struct {
	Num      uint32
	Elements map[uint32]element.Element
}

// Stat reports element counts by kind.
type Stat struct {
	Nodes int64
	Links int64
	Arcs  int64
}
