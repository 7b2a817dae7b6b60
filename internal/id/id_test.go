package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsUUID(t *testing.T) {
	a, b := New(), New()

	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(New()))
	assert.True(t, Valid("edge-proxy_42.req"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("has space"))
	assert.False(t, Valid("line\nbreak"))
	assert.False(t, Valid(strings.Repeat("a", 129)))
}
