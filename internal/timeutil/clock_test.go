package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMockClock_TickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Second)
	<-c.TickerCreated()

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticked early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tk.C():
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("expected a tick")
	}
	assert.Equal(t, epoch.Add(time.Second), c.Now())
}

func TestMockClock_LargeAdvanceTicksOnce(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Second)

	c.Advance(5 * time.Second)
	require.Len(t, tk.C(), 1)
	<-tk.C()

	c.Advance(500 * time.Millisecond)
	assert.Len(t, tk.C(), 0)
	c.Advance(500 * time.Millisecond)
	assert.Len(t, tk.C(), 1)
}

func TestMockClock_StoppedTickerIsSilent(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(2 * time.Second)
	assert.Len(t, tk.C(), 0)
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}
