package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/config"
	"github.com/latticegraph/lattice/pkg/element"
	"github.com/latticegraph/lattice/pkg/gctx"
)

const peekCtxID = 0xFFFFFF01

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	st := NewStorage(config.Default())
	require.NoError(t, st.Initialize("", false))
	t.Cleanup(func() { _ = st.Shutdown(false) })
	return st
}

// peek locks addr just long enough to copy its element for assertions,
// bypassing the public read API so tests can inspect incidence-list
// pointers the public interface does not expose directly.
func (s *Storage) peek(addr address.Address) element.Element {
	seg, err := s.segmentFor(addr)
	if err != nil {
		return element.Element{}
	}
	el := seg.LockElementTry(peekCtxID, addr.Offset, s.cfg.LockMaxAttempts)
	if el == nil {
		return element.Element{}
	}
	defer seg.UnlockElement(peekCtxID, addr.Offset)
	return *el
}

func TestInitializeTwiceFails(t *testing.T) {
	st := newTestStorage(t)
	assert.ErrorIs(t, st.Initialize("", false), ErrAlreadyInitialized)
}

func TestNodeNewRoundTripsType(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	subtype := element.Type(7) << 8
	addr, err := st.NodeNew(ctx, subtype)
	require.NoError(t, err)

	got, err := st.GetElementType(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, element.KindNode|subtype, got)
}

func TestLinkContentRoundTrip(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	link, err := st.LinkNew(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SetLinkContent(ctx, link, []byte("hello")))

	got, err := st.GetLinkContent(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	matches, err := st.FindLinksWithContent([]byte("hello"))
	require.NoError(t, err)
	assert.Contains(t, matches, link)
}

func TestSetLinkContentRejectsNonLink(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	node, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, st.SetLinkContent(ctx, node, []byte("x")), ErrInvalidType)
}

func TestChangeElementSubtypeRejectsKindBits(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	node, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, st.ChangeElementSubtype(ctx, node, element.KindLink), ErrInvalidParams)
}

func TestChangeElementSubtypePreservesKind(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	node, err := st.NodeNew(ctx, element.Type(1)<<8)
	require.NoError(t, err)

	newSubtype := element.Type(9) << 8
	require.NoError(t, st.ChangeElementSubtype(ctx, node, newSubtype))

	got, err := st.GetElementType(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, element.KindNode|newSubtype, got)
}

// Scenario 1: create N1, N2, arc A(N1,N2); endpoints and incidence
// heads point at A.
func TestArcNewSetsIncidenceHeads(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	a, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	begin, err := st.GetArcBegin(ctx, a)
	require.NoError(t, err)
	end, err := st.GetArcEnd(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, n1, begin)
	assert.Equal(t, n2, end)

	assert.Equal(t, a, st.peek(n1).FirstOutArc)
	assert.Equal(t, a, st.peek(n2).FirstInArc)
}

// Scenario 2: three arcs from N1 to N2 in order A1, A2, A3; the most
// recently created arc becomes the list head, and traversal yields
// them in reverse creation order.
func TestArcNewPrependsToOutList(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)

	a1, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)
	a2, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)
	a3, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	assert.Equal(t, a3, st.peek(n1).FirstOutArc)
	assert.Equal(t, []address.Address{a3, a2, a1}, traverseOut(st, n1))
}

// Scenario 3: freeing the middle arc of a 3-arc chain repairs the
// surrounding prev/next pointers.
func TestFreeMiddleArcRepairsChain(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)

	a1, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)
	a2, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)
	a3, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	require.NoError(t, st.Free(ctx, a2))

	assert.False(t, st.IsElement(ctx, a2))
	assert.Equal(t, []address.Address{a3, a1}, traverseOut(st, n1))
	assert.Equal(t, a1, st.peek(a3).NextOutArc)
	assert.Equal(t, a3, st.peek(a1).PrevOutArc)
}

// Scenario 4: freeing an arc's begin node cascades the arc's removal
// and clears the surviving endpoint's incidence head.
func TestFreeNodeCascadesIncidentArcs(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	a, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	require.NoError(t, st.Free(ctx, n1))

	assert.False(t, st.IsElement(ctx, a))
	assert.True(t, st.peek(n2).FirstInArc.IsEmpty())
}

// Freeing an arc directly (not discovered via a node cascade) still
// repairs both incidence lists and fires the arc-removal events on
// both endpoints.
func TestFreeArcDirectlyRepairsBothListsAndEmitsEvents(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	st := NewStorage(config.Default(), WithEvents(dispatcher))
	require.NoError(t, st.Initialize("", false))
	t.Cleanup(func() { _ = st.Shutdown(false) })
	ctx := gctx.New(1)

	var removedOut, removedIn []address.Address
	dispatcher.Subscribe(RemoveOutputArc, func(_ EventKind, subject, object address.Address) {
		removedOut = append(removedOut, object)
		assert.NotEqual(t, address.Empty, subject)
	})
	dispatcher.Subscribe(RemoveInputArc, func(_ EventKind, subject, object address.Address) {
		removedIn = append(removedIn, object)
		assert.NotEqual(t, address.Empty, subject)
	})

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)

	a1, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)
	a2, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)
	a3, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	require.NoError(t, st.Free(ctx, a2))

	assert.Equal(t, []address.Address{a3, a1}, traverseOut(st, n1))
	assert.Equal(t, a1, st.peek(a3).NextOutArc)
	assert.Equal(t, a3, st.peek(a1).PrevOutArc)
	assert.Equal(t, []address.Address{a2}, removedOut)
	assert.Equal(t, []address.Address{a2}, removedIn)
}

func TestFreeIdempotentTypesZeroed(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	a, err := st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	require.NoError(t, st.Free(ctx, n1))

	assert.Equal(t, element.Type(0), st.peek(n1).Type)
	assert.Equal(t, element.Type(0), st.peek(a).Type)
	assert.NotEqual(t, element.Type(0), st.peek(n2).Type)
}

// Scenario 6: two concurrent arc_new calls between the same pair both
// succeed and both land in the incidence lists exactly once.
func TestConcurrentArcNewBothSucceed(t *testing.T) {
	st := newTestStorage(t)
	n1, err := st.NodeNew(gctx.New(1), 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(gctx.New(1), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	addrs := make([]address.Address, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addrs[i], errs[i] = st.ArcNew(gctx.New(uint32(i+2)), element.KindArcCommon, n1, n2)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, addrs[0], addrs[1])

	out := traverseOut(st, n1)
	assert.ElementsMatch(t, addrs, out)
}

func traverseOut(st *Storage, from address.Address) []address.Address {
	var out []address.Address
	cur := st.peek(from).FirstOutArc
	for !cur.IsEmpty() {
		out = append(out, cur)
		cur = st.peek(cur).NextOutArc
	}
	return out
}

func TestGetElementsStat(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	n1, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	n2, err := st.NodeNew(ctx, 0)
	require.NoError(t, err)
	_, err = st.LinkNew(ctx)
	require.NoError(t, err)
	_, err = st.ArcNew(ctx, element.KindArcCommon, n1, n2)
	require.NoError(t, err)

	stat, err := st.GetElementsStat(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.Nodes)
	assert.Equal(t, int64(1), stat.Links)
	assert.Equal(t, int64(1), stat.Arcs)
}

func TestOperationsBeforeInitializeFail(t *testing.T) {
	st := NewStorage(config.Default())
	_, err := st.NodeNew(gctx.New(1), 0)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInvalidAddressReportsErrGeneric(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)
	_, err := st.GetElementType(ctx, address.New(999, 0))
	assert.ErrorIs(t, err, ErrGeneric)
}
