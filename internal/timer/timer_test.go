package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OneShot(t *testing.T) {
	m := NewManager()
	fired := 0
	h := m.SetTimer(2*time.Second, false, func() { fired++ })

	require.True(t, h.IsValid())
	assert.True(t, m.IsActive(h))
	assert.Equal(t, 2*time.Second, m.Remaining(h))

	m.Advance(time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, time.Second, m.Remaining(h))

	m.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.False(t, m.IsActive(h))
	assert.Equal(t, time.Duration(0), m.Remaining(h))

	m.Advance(10 * time.Second)
	assert.Equal(t, 1, fired, "one-shot must not fire again")
}

func TestManager_Repeating(t *testing.T) {
	m := NewManager()
	fired := 0
	h := m.SetTimer(time.Second, true, func() { fired++ })

	n := m.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, fired)
	assert.True(t, m.IsActive(h))
	assert.Equal(t, 500*time.Millisecond, m.Remaining(h))

	m.ClearTimer(h)
	m.Advance(5 * time.Second)
	assert.Equal(t, 3, fired)
}

func TestManager_OrderAndTies(t *testing.T) {
	m := NewManager()
	var order []string
	m.SetTimer(2*time.Second, false, func() { order = append(order, "b") })
	m.SetTimer(time.Second, false, func() { order = append(order, "a") })
	m.SetTimer(2*time.Second, false, func() { order = append(order, "c") })

	m.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 5*time.Second, m.Now())
}

func TestManager_ReentrantCallbacks(t *testing.T) {
	m := NewManager()
	var order []string
	var second Handle

	m.SetTimer(time.Second, false, func() {
		order = append(order, "first")
		m.SetTimer(time.Second, false, func() { order = append(order, "chained") })
		m.ClearTimer(second)
	})
	second = m.SetTimer(1500*time.Millisecond, false, func() { order = append(order, "second") })

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"first", "chained"}, order)
	assert.Equal(t, 0, m.Len())
}

func TestManager_ClearOwnRepeatingTimer(t *testing.T) {
	m := NewManager()
	fired := 0
	var h Handle
	h = m.SetTimer(time.Second, true, func() {
		fired++
		if fired == 2 {
			m.ClearTimer(h)
		}
	})

	m.Advance(10 * time.Second)
	assert.Equal(t, 2, fired)
	assert.False(t, m.IsActive(h))
}

func TestManager_InvalidInput(t *testing.T) {
	m := NewManager()
	assert.False(t, m.SetTimer(time.Second, false, nil).IsValid())

	m.ClearTimer(42)
	assert.False(t, m.IsActive(42))

	fired := false
	m.SetTimer(-time.Second, false, func() { fired = true })
	m.Advance(0)
	assert.True(t, fired, "negative duration fires on the next advance")
}
