package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal Provider for exercising Cache in isolation
// from Storage.
type fakeProvider struct {
	segments []*Segment
	cap      int
}

func (p *fakeProvider) NewSegment() *Segment {
	if p.cap > 0 && len(p.segments) >= p.cap {
		return nil
	}
	seg := New(uint32(len(p.segments)))
	p.segments = append(p.segments, seg)
	return seg
}

func (p *fakeProvider) AllSegments() []*Segment {
	return p.segments
}

func TestCacheGetAllocatesWhenEmpty(t *testing.T) {
	c := NewCache()
	p := &fakeProvider{}
	seg := c.Get(1, p)
	require.NotNil(t, seg)
	assert.Equal(t, 1, c.Count())
	assert.Len(t, p.segments, 1)
}

func TestCacheGetReusesProbedSegment(t *testing.T) {
	c := NewCache()
	p := &fakeProvider{}
	seg1 := c.Get(1, p)
	seg2 := c.Get(2, p)
	assert.Same(t, seg1, seg2)
	assert.Len(t, p.segments, 1)
}

func TestCacheGetReturnsNilWhenProviderExhausted(t *testing.T) {
	c := NewCache()
	p := &fakeProvider{cap: 1}
	seg1 := c.Get(1, p)
	require.NotNil(t, seg1)

	// Fill the only segment so the cache can't satisfy from it, and the
	// provider refuses another.
	for {
		offset, el, ok := seg1.LockEmptyElement(1)
		if !ok {
			break
		}
		el.Type = 1
		seg1.UnlockElement(1, offset)
	}
	c.Remove(1, seg1)

	seg2 := c.Get(1, p)
	assert.Nil(t, seg2)
}

func TestCacheAppendRemoveIdempotent(t *testing.T) {
	c := NewCache()
	seg := New(0)
	assert.True(t, c.Append(1, seg))
	assert.False(t, c.Append(1, seg))
	assert.True(t, c.Remove(1, seg))
	assert.False(t, c.Remove(1, seg))
}

func TestCacheLockUnlockByWrongOwnerPanics(t *testing.T) {
	c := NewCache()
	c.Lock(1)
	assert.Panics(t, func() { c.Unlock(2) })
	c.Unlock(1)
}
