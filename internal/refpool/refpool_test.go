package refpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	name  string
	count int
}

func (w *widget) Reset() {
	w.name = ""
	w.count = 0
}

func TestAcquireBuildsNewObjects(t *testing.T) {
	p := New(func() *widget { return &widget{} })

	a := p.Acquire()
	b := p.Acquire()
	require.NotSame(t, a, b)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, 0, stats.Free)
}

func TestReleaseResetsBeforeReuse(t *testing.T) {
	p := New(func() *widget { return &widget{} })

	w := p.Acquire()
	w.name = "dirty"
	w.count = 42
	p.Release(w)

	again := p.Acquire()
	require.Same(t, w, again, "released object should be reused")
	assert.Empty(t, again.name)
	assert.Zero(t, again.count)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, stats.Acquired)
	assert.Equal(t, 1, stats.Released)
	assert.Equal(t, 1, stats.InUse)
}

func TestMaxFreeDropsExtraObjects(t *testing.T) {
	p := New(func() *widget { return &widget{} }, WithMaxFree(1))

	a, b := p.Acquire(), p.Acquire()
	p.Release(a)
	p.Release(b)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Free)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Released)
}
