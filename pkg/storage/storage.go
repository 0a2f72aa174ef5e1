package storage

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/config"
	"github.com/latticegraph/lattice/pkg/element"
	"github.com/latticegraph/lattice/pkg/gctx"
	"github.com/latticegraph/lattice/pkg/segment"
)

// Storage is the process-scoped owner of the segment array and
// segment cache, and the sole entry point for every public operation
// on addresses. It is safe for concurrent use by many goroutines, each
// identified by its own gctx.Context.
//
// Example:
//
//	st := storage.NewStorage(config.Default())
//	if err := st.Initialize("", false); err != nil {
//		log.Fatal(err)
//	}
//	defer st.Shutdown(false)
//
//	ctx := gctx.New(1)
//	n1, _ := st.NodeNew(ctx, 0)
//	n2, _ := st.NodeNew(ctx, 0)
//	arc, _ := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
type Storage struct {
	cfg *config.Config

	segMu    sync.RWMutex
	segments []*segment.Segment
	cache    *segment.Cache

	persistence Persistence
	events      Events
	checksum    Checksum
	content     ContentStore
	logger      *slog.Logger

	initialized atomic.Bool
}

// Option configures a Storage at construction time, following the
// functional-options idiom used for options-style configuration structs.
type Option func(*Storage)

// WithPersistence overrides the default (no-op) Persistence.
func WithPersistence(p Persistence) Option { return func(s *Storage) { s.persistence = p } }

// WithEvents overrides the default (no-op) Events sink.
func WithEvents(e Events) Option { return func(s *Storage) { s.events = e } }

// WithChecksum overrides the default Blake2bChecksum.
func WithChecksum(c Checksum) Option { return func(s *Storage) { s.checksum = c } }

// WithContentStore overrides the default MemoryContentStore.
func WithContentStore(c ContentStore) Option { return func(s *Storage) { s.content = c } }

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Storage) { s.logger = l } }

// nopPersistence is the default Persistence: nothing is durable.
type nopPersistence struct{}

func (nopPersistence) Open(string, bool) error            { return nil }
func (nopPersistence) Load() ([]PersistedSegment, error)   { return nil, nil }
func (nopPersistence) SaveSegment(PersistedSegment) error  { return nil }
func (nopPersistence) Close(bool) error                    { return nil }

// nopEvents is the default Events sink: every call is a no-op.
type nopEvents struct{}

func (nopEvents) Emit(EventKind, address.Address, address.Address) {}
func (nopEvents) NotifyElementDeleted(address.Address)              {}

// NewStorage constructs an unopened Storage. Call Initialize before
// using it. cfg must not be nil.
func NewStorage(cfg *config.Config, opts ...Option) *Storage {
	s := &Storage{
		cfg:         cfg,
		cache:       segment.NewCache(),
		persistence: nopPersistence{},
		events:      nopEvents{},
		checksum:    Blake2bChecksum{},
		content:     NewMemoryContentStore(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the backing persistence store at path (empty for
// in-memory only), optionally clearing prior contents, and reloads any
// previously persisted segments. It reserves segment 0 offset 0 as the
// permanently-invalid address.Empty value.
func (s *Storage) Initialize(path string, clear bool) error {
	if s.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if err := s.persistence.Open(path, clear); err != nil {
		return err
	}
	persisted, err := s.persistence.Load()
	if err != nil {
		return err
	}

	s.segMu.Lock()
	maxNum := uint32(0)
	haveAny := len(persisted) > 0
	for _, ps := range persisted {
		if ps.Num+1 > maxNum {
			maxNum = ps.Num + 1
		}
	}
	if haveAny {
		s.segments = make([]*segment.Segment, maxNum)
		for i := range s.segments {
			s.segments[i] = segment.New(uint32(i))
		}
		for _, ps := range persisted {
			seg := s.segments[ps.Num]
			for offset, el := range ps.Elements {
				elCopy := el
				loaded := seg.LockElement(reservedCtxID, offset)
				*loaded = elCopy
				seg.UnlockElement(reservedCtxID, offset)
			}
		}
	} else {
		s.segments = nil
	}
	s.segMu.Unlock()

	if len(s.segments) == 0 {
		// Permanently occupy segment 0 / offset 0 with a placeholder
		// element so no future allocation can ever hand out
		// address.Empty as a live element's address.
		s.segMu.Lock()
		seg := s.newSegmentLocked()
		s.segMu.Unlock()
		if seg == nil {
			return ErrFull
		}
		offset, el, ok := seg.LockEmptyElement(reservedCtxID)
		if !ok || offset != 0 {
			return ErrGeneric
		}
		*el = element.NodeTemplate(0)
		seg.UnlockElement(reservedCtxID, offset)
	}

	s.initialized.Store(true)
	return nil
}

// reservedCtxID is used internally for bookkeeping locks taken outside
// any caller-supplied Context (segment-zero reservation on Initialize).
// It sits one below the maximum id because a spinlock records its
// owner as id+1, and the maximum id would wrap to the unlocked value 0.
const reservedCtxID = ^uint32(0) - 1

// Shutdown flushes every live segment through Persistence (when save
// is true) and closes the backing store. Callers must ensure no other
// goroutine is calling any public Storage method concurrently with
// Shutdown.
func (s *Storage) Shutdown(save bool) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	if save {
		s.segMu.RLock()
		segs := append([]*segment.Segment(nil), s.segments...)
		s.segMu.RUnlock()
		for _, seg := range segs {
			ps := PersistedSegment{Num: seg.Num(), Elements: make(map[uint32]element.Element)}
			seg.CollectLive(reservedCtxID, func(offset uint32, el element.Element) {
				ps.Elements[offset] = el
			})
			if err := s.persistence.SaveSegment(ps); err != nil {
				return err
			}
		}
	}
	if err := s.persistence.Close(save); err != nil {
		return err
	}
	s.initialized.Store(false)
	return nil
}

// IsInitialized reports whether Initialize has succeeded and Shutdown
// has not yet been called.
func (s *Storage) IsInitialized() bool {
	return s.initialized.Load()
}

// --- segment.Provider ---

func (s *Storage) NewSegment() *segment.Segment {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	return s.newSegmentLocked()
}

func (s *Storage) newSegmentLocked() *segment.Segment {
	if uint32(len(s.segments)) >= s.cfg.MaxLoadedSegments {
		return nil
	}
	seg := segment.New(uint32(len(s.segments)))
	s.segments = append(s.segments, seg)
	return seg
}

func (s *Storage) AllSegments() []*segment.Segment {
	s.segMu.RLock()
	defer s.segMu.RUnlock()
	return append([]*segment.Segment(nil), s.segments...)
}

// SegmentsCount returns the number of segments currently allocated.
func (s *Storage) SegmentsCount() uint32 {
	s.segMu.RLock()
	defer s.segMu.RUnlock()
	return uint32(len(s.segments))
}

// segmentFor resolves addr to its Segment, validating the segment
// index is in range and the offset is within a segment's capacity.
// Invalid addresses report ErrGeneric.
func (s *Storage) segmentFor(addr address.Address) (*segment.Segment, error) {
	if addr.Offset >= segment.Capacity {
		return nil, ErrGeneric
	}
	s.segMu.RLock()
	defer s.segMu.RUnlock()
	if addr.Segment >= uint32(len(s.segments)) {
		return nil, ErrGeneric
	}
	return s.segments[addr.Segment], nil
}

// maxAllocateRetries bounds appendElementIntoSegments's retry loop
// against a cache that keeps handing back segments that lose the race
// for their last free slot.
const maxAllocateRetries = 1024

// maxOrderedLockRetries bounds ArcNew's and Free's ordered-acquisition
// retry loop. Ordered acquisition accepts livelock risk in exchange for
// never deadlocking; a finite bound turns a pathological livelock into
// a reported ErrGeneric instead of a wedged goroutine.
const maxOrderedLockRetries = 1 << 16

// allocateLocked finds (or creates) a segment with a free slot, locks
// that slot, and returns it still locked so the caller can fill it in
// atomically with respect to any concurrent scan of the same offset.
func (s *Storage) allocateLocked(ctxID uint32) (*segment.Segment, uint32, *element.Element, error) {
	for attempt := 0; attempt < maxAllocateRetries; attempt++ {
		seg := s.cache.Get(ctxID, s)
		if seg == nil {
			s.logger.Error("allocation failed: segment cache and provider exhausted", "max_segments", s.cfg.MaxLoadedSegments)
			return nil, 0, nil, ErrFull
		}
		offset, el, ok := seg.LockEmptyElement(ctxID)
		if !ok {
			// Cache handed back a segment whose free slot someone else
			// just claimed; evict the stale entry and try again.
			s.cache.Remove(ctxID, seg)
			continue
		}
		return seg, offset, el, nil
	}
	s.logger.Error("allocation failed: retry budget exhausted", "attempts", maxAllocateRetries)
	return nil, 0, nil, ErrFull
}

// allocate fills a freshly-locked slot with template and returns its
// address, unlocked.
func (s *Storage) allocate(ctxID uint32, template element.Element) (address.Address, error) {
	seg, offset, el, err := s.allocateLocked(ctxID)
	if err != nil {
		return address.Empty, err
	}
	*el = template
	addr := address.New(seg.Num(), offset)
	seg.UnlockElement(ctxID, offset)
	return addr, nil
}

// NodeNew allocates a node element carrying subtype and returns its
// address.
func (s *Storage) NodeNew(ctx gctx.Context, subtype element.Type) (address.Address, error) {
	if !s.initialized.Load() {
		return address.Empty, ErrNotInitialized
	}
	return s.allocate(ctx.ID(), element.NodeTemplate(subtype))
}

// LinkNew allocates an empty link element (no content yet, see
// SetLinkContent) and returns its address.
func (s *Storage) LinkNew(ctx gctx.Context) (address.Address, error) {
	if !s.initialized.Load() {
		return address.Empty, ErrNotInitialized
	}
	return s.allocate(ctx.ID(), element.LinkTemplate())
}

// lockAddrs locks every address in addrs not already present in
// already, returning the newly-locked elements and their segments. On
// any single lock failure it releases everything it had newly acquired
// and reports false; already's entries are left untouched either way.
func (s *Storage) lockAddrs(ctxID uint32, already map[address.Address]*element.Element, addrs ...address.Address) (map[address.Address]*element.Element, map[address.Address]*segment.Segment, bool) {
	newEls := make(map[address.Address]*element.Element)
	newSegs := make(map[address.Address]*segment.Segment)
	for _, a := range addrs {
		if a.IsEmpty() {
			continue
		}
		if _, ok := already[a]; ok {
			continue
		}
		if _, ok := newEls[a]; ok {
			continue
		}
		seg, err := s.segmentFor(a)
		if err != nil {
			s.unlockSet(ctxID, newEls, newSegs)
			return nil, nil, false
		}
		el := seg.LockElementTry(ctxID, a.Offset, s.cfg.LockMaxAttempts)
		if el == nil {
			s.unlockSet(ctxID, newEls, newSegs)
			return nil, nil, false
		}
		newEls[a] = el
		newSegs[a] = seg
	}
	return newEls, newSegs, true
}

func (s *Storage) unlockSet(ctxID uint32, els map[address.Address]*element.Element, segs map[address.Address]*segment.Segment) {
	for addr := range els {
		segs[addr].UnlockElement(ctxID, addr.Offset)
	}
}

func mergeLocked(dst, src map[address.Address]*element.Element, dstSegs, srcSegs map[address.Address]*segment.Segment) {
	for a, el := range src {
		dst[a] = el
		dstSegs[a] = srcSegs[a]
	}
}

// ArcNew allocates an arc of kind between begin and end and splices it
// into the head of both incidence lists: begin's out-list and end's
// in-list. Locks on begin, end, and whichever arcs currently sit at
// the head of those lists are acquired in a single
// bounded, all-or-nothing attempt; any failure releases everything and
// retries, so the operation can livelock under contention but never
// deadlocks.
func (s *Storage) ArcNew(ctx gctx.Context, kind element.Type, begin, end address.Address) (address.Address, error) {
	if !s.initialized.Load() {
		return address.Empty, ErrNotInitialized
	}
	ctxID := ctx.ID()

	if _, err := s.segmentFor(begin); err != nil {
		return address.Empty, err
	}
	if _, err := s.segmentFor(end); err != nil {
		return address.Empty, err
	}

	arcAddr, err := s.allocate(ctxID, element.ArcTemplate(kind, begin, end))
	if err != nil {
		return address.Empty, err
	}

	for attempt := 0; attempt < maxOrderedLockRetries; attempt++ {
		els, segs, ok := s.lockAddrs(ctxID, nil, begin, end)
		if !ok {
			continue
		}
		beginEl := els[begin]
		endEl := els[end]
		oldOutHead := beginEl.FirstOutArc
		oldInHead := endEl.FirstInArc

		extraEls, extraSegs, ok := s.lockAddrs(ctxID, els, oldOutHead, oldInHead)
		if !ok {
			s.unlockSet(ctxID, els, segs)
			continue
		}
		mergeLocked(els, extraEls, segs, extraSegs)

		arcSeg, err := s.segmentFor(arcAddr)
		if err != nil {
			s.unlockSet(ctxID, els, segs)
			return address.Empty, err
		}
		arc := arcSeg.LockElement(ctxID, arcAddr.Offset)

		arc.NextOutArc = oldOutHead
		arc.PrevOutArc = address.Empty
		if headEl, ok := els[oldOutHead]; ok {
			headEl.PrevOutArc = arcAddr
		}
		beginEl.FirstOutArc = arcAddr

		arc.NextInArc = oldInHead
		arc.PrevInArc = address.Empty
		if headEl, ok := els[oldInHead]; ok {
			headEl.PrevInArc = arcAddr
		}
		endEl.FirstInArc = arcAddr

		arcSeg.UnlockElement(ctxID, arcAddr.Offset)
		s.unlockSet(ctxID, els, segs)

		s.events.Emit(AddOutputArc, begin, arcAddr)
		s.events.Emit(AddInputArc, end, arcAddr)
		return arcAddr, nil
	}
	s.logger.Warn("ArcNew exhausted its ordered-lock retry budget", "begin", begin, "end", end, "attempts", maxOrderedLockRetries)
	return address.Empty, ErrGeneric
}

// ensureLocked returns the already-locked element at a from lockSet,
// or locks and registers it there. Both maps are shared mutable state
// across one Free call's discovery phase.
func (s *Storage) ensureLocked(ctxID uint32, a address.Address, lockSet map[address.Address]*element.Element, lockSegs map[address.Address]*segment.Segment) (*element.Element, bool) {
	if el, ok := lockSet[a]; ok {
		return el, true
	}
	seg, err := s.segmentFor(a)
	if err != nil {
		return nil, false
	}
	el := seg.LockElementTry(ctxID, a.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return nil, false
	}
	lockSet[a] = el
	lockSegs[a] = seg
	return el, true
}

// discoverAndLock walks the transitive closure of arcs incident to
// root: every element reachable by following out/in incidence chains
// from an element already slated for removal is itself slated for
// removal, and every arc's surviving far endpoint is locked (but not
// removed) so its incidence list head can be repaired once the arc is
// gone. When the popped element is itself an arc (root passed in
// directly as an arc address, not only discovered via a node's
// incidence chain), its begin, end, and any non-empty
// prev/next-out/in-arc siblings are locked too, since those are the
// pointers unspliceOut/unspliceIn need to repair.
func (s *Storage) discoverAndLock(ctxID uint32, root address.Address, removeSet map[address.Address]bool, lockSet map[address.Address]*element.Element, lockSegs map[address.Address]*segment.Segment) bool {
	worklist := []address.Address{root}
	for len(worklist) > 0 {
		a := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if removeSet[a] {
			continue
		}
		el, ok := s.ensureLocked(ctxID, a, lockSet, lockSegs)
		if !ok {
			return false
		}
		removeSet[a] = true
		if !el.IsLive() {
			continue
		}

		if el.Type.IsArc() {
			for _, sib := range []address.Address{el.Begin, el.End, el.PrevOutArc, el.NextOutArc, el.PrevInArc, el.NextInArc} {
				if sib.IsEmpty() {
					continue
				}
				if _, ok := s.ensureLocked(ctxID, sib, lockSet, lockSegs); !ok {
					return false
				}
			}
		}

		cur := el.FirstOutArc
		for !cur.IsEmpty() {
			arcEl, ok := s.ensureLocked(ctxID, cur, lockSet, lockSegs)
			if !ok {
				return false
			}
			next := arcEl.NextOutArc
			if !removeSet[cur] {
				worklist = append(worklist, cur)
				if _, ok := s.ensureLocked(ctxID, arcEl.End, lockSet, lockSegs); !ok {
					return false
				}
			}
			cur = next
		}

		cur = el.FirstInArc
		for !cur.IsEmpty() {
			arcEl, ok := s.ensureLocked(ctxID, cur, lockSet, lockSegs)
			if !ok {
				return false
			}
			next := arcEl.NextInArc
			if !removeSet[cur] {
				worklist = append(worklist, cur)
				if _, ok := s.ensureLocked(ctxID, arcEl.Begin, lockSet, lockSegs); !ok {
					return false
				}
			}
			cur = next
		}
	}
	return true
}

func unspliceOut(lockSet map[address.Address]*element.Element, arc *element.Element) {
	prev, next := arc.PrevOutArc, arc.NextOutArc
	if prevEl, ok := lockSet[prev]; ok {
		prevEl.NextOutArc = next
	} else if beginEl, ok := lockSet[arc.Begin]; ok {
		beginEl.FirstOutArc = next
	}
	if nextEl, ok := lockSet[next]; ok {
		nextEl.PrevOutArc = prev
	}
}

func unspliceIn(lockSet map[address.Address]*element.Element, arc *element.Element) {
	prev, next := arc.PrevInArc, arc.NextInArc
	if prevEl, ok := lockSet[prev]; ok {
		prevEl.NextInArc = next
	} else if endEl, ok := lockSet[arc.End]; ok {
		endEl.FirstInArc = next
	}
	if nextEl, ok := lockSet[next]; ok {
		nextEl.PrevInArc = prev
	}
}

// Free removes addr and every element that would otherwise be left
// dangling by its removal: every arc directly or
// transitively incident to addr through another removed element. The
// whole closure is discovered, locked, unspliced, and erased as one
// atomic-looking operation from any other caller's perspective, a
// concurrent Get sees either the pre-Free graph or the fully-repaired
// post-Free graph, never a half-spliced state.
func (s *Storage) Free(ctx gctx.Context, addr address.Address) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	ctxID := ctx.ID()

	for attempt := 0; attempt < maxOrderedLockRetries; attempt++ {
		removeSet := make(map[address.Address]bool)
		lockSet := make(map[address.Address]*element.Element)
		lockSegs := make(map[address.Address]*segment.Segment)

		if !s.discoverAndLock(ctxID, addr, removeSet, lockSet, lockSegs) {
			s.unlockSet(ctxID, lockSet, lockSegs)
			continue
		}
		s.logger.Debug("Free discovered removal closure", "root", addr, "closure_size", len(removeSet))

		for rmAddr := range removeSet {
			el := lockSet[rmAddr]
			if !el.IsLive() || !el.Type.IsArc() {
				continue
			}
			unspliceOut(lockSet, el)
			unspliceIn(lockSet, el)
			s.events.Emit(RemoveOutputArc, el.Begin, rmAddr)
			s.events.Emit(RemoveInputArc, el.End, rmAddr)
		}

		for rmAddr := range removeSet {
			s.events.NotifyElementDeleted(rmAddr)
			lockSegs[rmAddr].EraseElement(rmAddr.Offset)
		}
		s.unlockSet(ctxID, lockSet, lockSegs)
		for rmAddr := range removeSet {
			s.events.Emit(RemoveElement, rmAddr, rmAddr)
		}
		return nil
	}
	s.logger.Warn("Free exhausted its ordered-lock retry budget", "root", addr, "attempts", maxOrderedLockRetries)
	return ErrGeneric
}

// IsElement reports whether addr currently names a live element.
// Invalid addresses (out of range) report false rather than an error,
// rather than an error.
func (s *Storage) IsElement(ctx gctx.Context, addr address.Address) bool {
	if !s.initialized.Load() {
		return false
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return false
	}
	el := seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return false
	}
	live := el.IsLive()
	seg.UnlockElement(ctx.ID(), addr.Offset)
	return live
}

// GetElementType returns the full Type (kind, arc-mask, and subtype
// bits) of the element at addr.
func (s *Storage) GetElementType(ctx gctx.Context, addr address.Address) (element.Type, error) {
	if !s.initialized.Load() {
		return 0, ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return 0, err
	}
	el := seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return 0, ErrGeneric
	}
	defer seg.UnlockElement(ctx.ID(), addr.Offset)
	if !el.IsLive() {
		return 0, ErrGeneric
	}
	return el.Type, nil
}

// ChangeElementSubtype rewrites addr's subtype bits in place, refusing
// any attempt to touch the element-kind or arc-mask bits.
func (s *Storage) ChangeElementSubtype(ctx gctx.Context, addr address.Address, subtype element.Type) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	if subtype&element.ElementKindMask != 0 {
		return ErrInvalidParams
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return err
	}
	el := seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return ErrGeneric
	}
	defer seg.UnlockElement(ctx.ID(), addr.Offset)
	if !el.IsLive() {
		return ErrGeneric
	}
	el.Type = (el.Type & element.ElementKindMask) | subtype
	return nil
}

func (s *Storage) arcEndpoint(ctx gctx.Context, addr address.Address, begin bool) (address.Address, error) {
	if !s.initialized.Load() {
		return address.Empty, ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return address.Empty, err
	}
	el := seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return address.Empty, ErrGeneric
	}
	defer seg.UnlockElement(ctx.ID(), addr.Offset)
	if !el.IsLive() || !el.Type.IsArc() {
		return address.Empty, ErrInvalidType
	}
	if begin {
		return el.Begin, nil
	}
	return el.End, nil
}

// GetArcBegin returns the begin endpoint of the arc at addr, or
// ErrInvalidType if addr does not name an arc.
func (s *Storage) GetArcBegin(ctx gctx.Context, addr address.Address) (address.Address, error) {
	return s.arcEndpoint(ctx, addr, true)
}

// GetArcEnd returns the end endpoint of the arc at addr, or
// ErrInvalidType if addr does not name an arc.
func (s *Storage) GetArcEnd(ctx gctx.Context, addr address.Address) (address.Address, error) {
	return s.arcEndpoint(ctx, addr, false)
}

// SetLinkContent hashes data with the configured Checksum, stores it
// in the configured ContentStore, and records the checksum on the link
// element at addr.
func (s *Storage) SetLinkContent(ctx gctx.Context, addr address.Address, data []byte) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return err
	}
	el := seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return ErrGeneric
	}
	if !el.IsLive() || !el.Type.IsLink() {
		seg.UnlockElement(ctx.ID(), addr.Offset)
		return ErrInvalidType
	}
	checksum, err := s.checksum.Calculate(data)
	if err != nil {
		seg.UnlockElement(ctx.ID(), addr.Offset)
		return err
	}
	el.Checksum = checksum
	seg.UnlockElement(ctx.ID(), addr.Offset)

	if err := s.content.Put(checksum, data); err != nil {
		return err
	}
	return s.content.IndexAddress(checksum, addr)
}

// GetLinkContent returns the content previously stored via
// SetLinkContent for the link at addr.
func (s *Storage) GetLinkContent(ctx gctx.Context, addr address.Address) ([]byte, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return nil, err
	}
	el := seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return nil, ErrGeneric
	}
	if !el.IsLive() || !el.Type.IsLink() {
		seg.UnlockElement(ctx.ID(), addr.Offset)
		return nil, ErrInvalidType
	}
	checksum := el.Checksum
	seg.UnlockElement(ctx.ID(), addr.Offset)

	data, ok, err := s.content.Get(checksum)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGeneric
	}
	return data, nil
}

// FindLinksWithContent returns the addresses of every link whose
// content hashes identically to data.
func (s *Storage) FindLinksWithContent(data []byte) ([]address.Address, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	checksum, err := s.checksum.Calculate(data)
	if err != nil {
		return nil, err
	}
	return s.content.FindByChecksum(checksum)
}

// GetElementsStat aggregates per-kind element counts across every
// segment. Best-effort under concurrent mutation: see
// segment.Segment.CollectStat.
func (s *Storage) GetElementsStat(ctx gctx.Context) (Stat, error) {
	if !s.initialized.Load() {
		return Stat{}, ErrNotInitialized
	}
	var total segment.Stat
	for _, seg := range s.AllSegments() {
		seg.CollectStat(ctx.ID(), &total)
	}
	// The placeholder node Initialize keeps at address.Empty is not a
	// caller's element, so it is left out of the node count.
	if s.IsElement(ctx, address.Empty) {
		total.Nodes--
	}
	return Stat{Nodes: total.Nodes, Links: total.Links, Arcs: total.Arcs}, nil
}

// ElementLock acquires the per-element lock at addr, blocking until
// held. Exposed for callers (like the template loader) that need to
// hold a lock across several Storage calls.
func (s *Storage) ElementLock(ctx gctx.Context, addr address.Address) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return err
	}
	seg.LockElement(ctx.ID(), addr.Offset)
	return nil
}

// ElementLockTry attempts to acquire the per-element lock at addr
// within the configured lock-retry budget, returning false rather than
// blocking on failure.
func (s *Storage) ElementLockTry(ctx gctx.Context, addr address.Address) (bool, error) {
	if !s.initialized.Load() {
		return false, ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return false, err
	}
	return seg.LockElementTry(ctx.ID(), addr.Offset, s.cfg.LockMaxAttempts) != nil, nil
}

// ElementUnlock releases the per-element lock at addr. It panics if
// ctx is not the current holder.
func (s *Storage) ElementUnlock(ctx gctx.Context, addr address.Address) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	seg, err := s.segmentFor(addr)
	if err != nil {
		return err
	}
	seg.UnlockElement(ctx.ID(), addr.Offset)
	return nil
}
