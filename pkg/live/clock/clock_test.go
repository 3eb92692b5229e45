package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceRunsDueCallbacksInOrder(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewFake(start)

	var fired []string
	var firedAt []time.Time
	c.AfterFunc(800*time.Millisecond, func() { fired = append(fired, "b"); firedAt = append(firedAt, c.Now()) })
	c.AfterFunc(400*time.Millisecond, func() { fired = append(fired, "a"); firedAt = append(firedAt, c.Now()) })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, []time.Time{start.Add(400 * time.Millisecond), start.Add(800 * time.Millisecond)}, firedAt)
	assert.Equal(t, start.Add(time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_StopPreventsCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ran := false
	timer := c.AfterFunc(time.Second, func() { ran = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, ran)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_CallbackMaySchedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(100*time.Millisecond, tick)
		}
	}
	c.AfterFunc(100*time.Millisecond, tick)

	c.Advance(time.Second)
	assert.Equal(t, 3, count)
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
