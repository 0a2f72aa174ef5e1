package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmpty(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.False(t, New(1, 0).IsEmpty())
	assert.False(t, New(0, 1).IsEmpty())
}

func TestString(t *testing.T) {
	assert.Equal(t, "-", Empty.String())
	assert.Equal(t, "3:7", New(3, 7).String())
}

func TestEquality(t *testing.T) {
	a := New(2, 5)
	b := New(2, 5)
	c := New(2, 6)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestParseRoundTrip(t *testing.T) {
	addr := New(3, 7)
	got, err := Parse(addr.String())
	assert.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse("-")
	assert.NoError(t, err)
	assert.Equal(t, Empty, got)

	got, err = Parse("")
	assert.NoError(t, err)
	assert.Equal(t, Empty, got)
}

func TestParseInvalidReportsError(t *testing.T) {
	_, err := Parse("not-an-address")
	assert.Error(t, err)
}
