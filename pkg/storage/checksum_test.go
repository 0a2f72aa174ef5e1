package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlake2bChecksumDeterministic(t *testing.T) {
	c := Blake2bChecksum{}
	a, err := c.Calculate([]byte("hello"))
	assert.NoError(t, err)
	b, err := c.Calculate([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := c.Calculate([]byte("goodbye"))
	assert.NoError(t, err)
	assert.NotEqual(t, a, other)
}
