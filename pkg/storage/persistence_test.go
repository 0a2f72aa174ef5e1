package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticegraph/lattice/pkg/config"
	"github.com/latticegraph/lattice/pkg/element"
	"github.com/latticegraph/lattice/pkg/gctx"
)

func TestBadgerPersistenceSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p := NewBadgerPersistence(BadgerPersistenceOptions{})
	require.NoError(t, p.Open(dir, false))

	seg := PersistedSegment{Num: 0, Elements: map[uint32]element.Element{
		5: element.NodeTemplate(element.Type(3) << 8),
	}}
	require.NoError(t, p.SaveSegment(seg))
	require.NoError(t, p.Close(true))

	p2 := NewBadgerPersistence(BadgerPersistenceOptions{})
	require.NoError(t, p2.Open(dir, false))
	defer p2.Close(true)

	loaded, err := p2.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, uint32(0), loaded[0].Num)
	assert.Equal(t, element.NodeTemplate(element.Type(3)<<8), loaded[0].Elements[5])
}

func TestBadgerPersistenceCloseWithoutSaveDropsAll(t *testing.T) {
	dir := t.TempDir()

	p := NewBadgerPersistence(BadgerPersistenceOptions{})
	require.NoError(t, p.Open(dir, false))
	require.NoError(t, p.SaveSegment(PersistedSegment{Num: 0, Elements: map[uint32]element.Element{
		0: element.LinkTemplate(),
	}}))
	require.NoError(t, p.Close(false))

	p2 := NewBadgerPersistence(BadgerPersistenceOptions{})
	require.NoError(t, p2.Open(dir, false))
	defer p2.Close(true)

	loaded, err := p2.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStorageShutdownReloadsPersistedElements(t *testing.T) {
	dir := t.TempDir()
	ctx := gctx.New(1)

	st1 := NewStorage(config.Default(), WithPersistence(NewBadgerPersistence(BadgerPersistenceOptions{})))
	require.NoError(t, st1.Initialize(dir, false))
	n1, err := st1.NodeNew(ctx, element.Type(4)<<8)
	require.NoError(t, err)
	require.NoError(t, st1.Shutdown(true))

	st2 := NewStorage(config.Default(), WithPersistence(NewBadgerPersistence(BadgerPersistenceOptions{})))
	require.NoError(t, st2.Initialize(dir, false))
	defer st2.Shutdown(false)

	got, err := st2.GetElementType(ctx, n1)
	require.NoError(t, err)
	assert.Equal(t, element.KindNode|element.Type(4)<<8, got)
}

func TestEncodeDecodeElementRoundTrip(t *testing.T) {
	el := element.NodeTemplate(element.Type(11) << 8)
	el.Checksum[0] = 0xAB

	buf := encodeElement(el)
	decoded, err := decodeElement(buf)
	require.NoError(t, err)
	assert.Equal(t, el, decoded)
}
