package auxtask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleEncoding(t *testing.T) {
	assert.False(t, InvalidHandle.Valid())
	assert.Equal(t, "aux#invalid", InvalidHandle.String())

	h := makeHandle(3, 7)
	assert.True(t, h.Valid())
	assert.Equal(t, 3, h.index())
	assert.Equal(t, uint32(7), h.generation())
	assert.Equal(t, "aux#3.7", h.String())
}

func TestDomainString(t *testing.T) {
	assert.Equal(t, "expedited", Expedited.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unknown", Domain(9).String())
}

func TestCPUHandsOffByPriorityThenArrival(t *testing.T) {
	c := &cpu{}
	owner := newWaiter(50)
	c.acquire(owner)

	low := newWaiter(10)
	midA := newWaiter(40)
	midB := newWaiter(40)
	high := newWaiter(80)

	c.mu.Lock()
	for _, w := range []*waiter{low, midA, midB, high} {
		c.enqueue(w)
	}
	c.mu.Unlock()
	require.Equal(t, 4, c.readyCount())

	want := []*waiter{high, midA, midB, low}
	current := owner
	for _, next := range want {
		c.release(current)
		select {
		case <-next.grant:
		default:
			t.Fatalf("expected waiter with priority %d to be granted", next.priority)
		}
		current = next
	}
	c.release(current)
	assert.Nil(t, c.owner)
	assert.Zero(t, c.readyCount())
}

func TestCPUYieldOnlyToEqualOrHigher(t *testing.T) {
	c := &cpu{}
	owner := newWaiter(50)
	c.acquire(owner)

	c.mu.Lock()
	c.enqueue(newWaiter(10))
	c.mu.Unlock()
	assert.False(t, c.yield(owner), "lower priority waiter does not preempt")
	assert.Same(t, owner, c.owner)
}

func TestCPUReleaseByNonOwnerIgnored(t *testing.T) {
	c := &cpu{}
	owner := newWaiter(50)
	c.acquire(owner)
	c.release(newWaiter(50))
	assert.Same(t, owner, c.owner)
	c.release(owner)
	assert.Nil(t, c.owner)
}
