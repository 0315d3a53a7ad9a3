package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanegate/server/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	c := clock.Fake(epoch)
	ch := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(3*time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, c.Pending())
}

func TestFake_TickerReschedules(t *testing.T) {
	c := clock.Fake(epoch)
	tk := c.NewTicker(10 * time.Second)
	defer tk.Stop()

	c.Advance(10 * time.Second)
	require.Len(t, tk.C, 1)
	<-tk.C

	c.Advance(10 * time.Second)
	require.Len(t, tk.C, 1)
	assert.Equal(t, 1, c.Pending())
}

func TestFake_StoppedTickerIsDropped(t *testing.T) {
	c := clock.Fake(epoch)
	tk := c.NewTicker(time.Second)
	tk.Stop()

	c.Advance(5 * time.Second)
	assert.Len(t, tk.C, 0)
	assert.Equal(t, 0, c.Pending())
}
