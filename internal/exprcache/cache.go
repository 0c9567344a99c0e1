// Package exprcache compiles expr-lang expressions once and keeps the
// programs in a bounded LRU, shared by every tree that evaluates the same
// source text.
package exprcache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultSize is the capacity of the Default cache.
const DefaultSize = 1000

// ErrNotBool is returned by EvalBool when a program yields a non-boolean.
var ErrNotBool = errors.New("exprcache: expression did not yield a bool")

// Default is the process-wide cache.
var Default = New(DefaultSize)

// Cache is a thread-safe LRU of compiled programs, keyed by source text and
// result mode.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	hits    int64
	misses  int64
}

type entry struct {
	key     string
	program *vm.Program
}

// New creates a cache holding at most maxSize programs. Sizes below one
// select DefaultSize.
func New(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = DefaultSize
	}
	return &Cache{
		items:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached program for key, marking it most recently used.
func (c *Cache) Get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*entry).program, true
}

// Put stores program under key, evicting the least recently used entries
// beyond capacity.
func (c *Cache) Put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*entry).program = program
		return
	}
	c.items[key] = c.lru.PushFront(&entry{key: key, program: program})
	c.evict()
}

// Resize changes the capacity, evicting immediately if it shrank.
func (c *Cache) Resize(maxSize int) {
	if maxSize < 1 {
		maxSize = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.evict()
}

func (c *Cache) evict() {
	for c.lru.Len() > c.maxSize {
		elem := c.lru.Back()
		delete(c.items, elem.Value.(*entry).key)
		c.lru.Remove(elem)
	}
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cap returns the capacity.
func (c *Cache) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// Stats returns the entry count, hit and miss counters and the hit ratio.
func (c *Cache) Stats() (size int, hits, misses int64, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total := c.hits + c.misses; total > 0 {
		ratio = float64(c.hits) / float64(total)
	}
	return c.lru.Len(), c.hits, c.misses, ratio
}

func (c *Cache) String() string {
	size, hits, misses, ratio := c.Stats()
	return fmt.Sprintf("exprcache{size=%d, hits=%d, misses=%d, hit_ratio=%.2f%%}",
		size, hits, misses, ratio*100)
}

// Compile returns the program for expression, compiling and caching it on a
// miss. With asBool the program is checked to yield a bool. Identifiers not
// present in the evaluation environment read as nil.
func (c *Cache) Compile(expression string, asBool bool) (*vm.Program, error) {
	key := "v:" + expression
	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if asBool {
		key = "b:" + expression
		opts = append(opts, expr.AsBool())
	}
	if program, ok := c.Get(key); ok {
		return program, nil
	}
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	c.Put(key, program)
	return program, nil
}

// Eval compiles (or reuses) expression and runs it against env.
func (c *Cache) Eval(expression string, env map[string]any) (any, error) {
	program, err := c.Compile(expression, false)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", expression, err)
	}
	return out, nil
}

// EvalBool is Eval for predicates.
func (c *Cache) EvalBool(expression string, env map[string]any) (bool, error) {
	program, err := c.Compile(expression, true)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q gave %T", ErrNotBool, expression, out)
	}
	return b, nil
}

// Compile compiles through the Default cache.
func Compile(expression string, asBool bool) (*vm.Program, error) {
	return Default.Compile(expression, asBool)
}

// Run runs a compiled program against env.
func Run(program *vm.Program, env map[string]any) (any, error) {
	return expr.Run(program, env)
}

// SetSize resizes the Default cache.
func SetSize(size int) { Default.Resize(size) }
