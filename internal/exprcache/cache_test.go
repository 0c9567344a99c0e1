package exprcache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_CompileReuses(t *testing.T) {
	t.Parallel()

	c := New(4)
	p1, err := c.Compile("health > 10", true)
	require.NoError(t, err)
	p2, err := c.Compile("health > 10", true)
	require.NoError(t, err)
	require.Same(t, p1, p2)

	p3, err := c.Compile("health > 10", false)
	require.NoError(t, err)
	require.NotSame(t, p1, p3, "bool and value programs are cached apart")

	size, hits, misses, ratio := c.Stats()
	assert.Equal(t, 2, size)
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 2, misses)
	assert.InDelta(t, 1.0/3, ratio, 1e-9)
	assert.Contains(t, c.String(), "size=2")
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := New(2)
	_, err := c.Compile("a == 1", true)
	require.NoError(t, err)
	_, err = c.Compile("b == 1", true)
	require.NoError(t, err)

	// touch a, so b is the eviction candidate
	_, ok := c.Get("b:a == 1")
	require.True(t, ok)

	_, err = c.Compile("c == 1", true)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	_, ok = c.Get("b:b == 1")
	require.False(t, ok)
	_, ok = c.Get("b:a == 1")
	require.True(t, ok)
}

func TestCache_Resize(t *testing.T) {
	t.Parallel()

	c := New(0)
	require.Equal(t, DefaultSize, c.Cap())

	for i := range 10 {
		_, err := c.Compile(fmt.Sprintf("x == %d", i), true)
		require.NoError(t, err)
	}
	c.Resize(3)
	require.Equal(t, 3, c.Len())
	c.Resize(-5)
	require.Equal(t, 1, c.Cap())
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.Zero(t, c.Len())
}

func TestCache_EvalBool(t *testing.T) {
	t.Parallel()

	c := New(8)
	env := map[string]any{"health": 42.0, "name": "scout"}

	ok, err := c.EvalBool(`health > 10 && name == "scout"`, env)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.EvalBool(`missing == nil`, env)
	require.NoError(t, err)
	require.True(t, ok, "undefined identifiers read as nil")

	_, err = c.EvalBool(`health >`, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestCache_Eval(t *testing.T) {
	t.Parallel()

	c := New(8)
	out, err := c.Eval(`health * 2`, map[string]any{"health": 21})
	require.NoError(t, err)
	require.EqualValues(t, 42, out)

	out, err = c.Eval(`{"x": 1.5, "y": 0, "z": -1}`, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": 1.5, "y": 0, "z": -1}, out)
}

func TestCache_Concurrent(t *testing.T) {
	t.Parallel()

	c := New(16)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 100 {
				v, err := c.EvalBool(fmt.Sprintf("n == %d", j%20), map[string]any{"n": j % 20})
				assert.NoError(t, err)
				assert.True(t, v, "worker %d", i)
			}
		})
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 16)
}

func TestDefault_CompileAndRun(t *testing.T) {
	t.Parallel()

	program, err := Compile(`value in ["a", "b"]`, true)
	require.NoError(t, err)
	out, err := Run(program, map[string]any{"value": "b"})
	require.NoError(t, err)
	require.Equal(t, true, out)

	again, err := Compile(`value in ["a", "b"]`, true)
	require.NoError(t, err)
	require.Same(t, program, again)
}
