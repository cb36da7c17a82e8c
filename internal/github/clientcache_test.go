package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newClientCache(2)
	a, b, d := &AppClient{installationID: 1}, &AppClient{installationID: 2}, &AppClient{installationID: 3}

	_, evicted := c.put("acme", a)
	assert.False(t, evicted)
	c.put("labs", b)

	// touch acme so labs becomes the oldest
	got, ok := c.get("acme")
	assert.True(t, ok)
	assert.Same(t, a, got)

	owner, evicted := c.put("ops", d)
	assert.True(t, evicted)
	assert.Equal(t, "labs", owner)
	assert.Equal(t, 2, c.len())

	_, ok = c.get("labs")
	assert.False(t, ok)
}

func TestClientCache_ReplaceDoesNotEvict(t *testing.T) {
	c := newClientCache(1)
	c.put("acme", &AppClient{installationID: 1})

	repl := &AppClient{installationID: 9}
	_, evicted := c.put("acme", repl)
	assert.False(t, evicted)

	got, ok := c.get("acme")
	assert.True(t, ok)
	assert.Same(t, repl, got)
	assert.Equal(t, 1, c.len())
}

func TestClientCache_MinimumCapacity(t *testing.T) {
	c := newClientCache(0)
	c.put("acme", &AppClient{})
	owner, evicted := c.put("labs", &AppClient{})
	assert.True(t, evicted)
	assert.Equal(t, "acme", owner)
}
