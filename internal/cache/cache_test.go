package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New[string, int](time.Minute)
	c.SetUntil("a", 1, time.Now().Add(-time.Second))

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("a", 1)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}
