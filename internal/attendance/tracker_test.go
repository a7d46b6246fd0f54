package attendance

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestTracker_MarkOnce(t *testing.T) {
	tr := NewTracker()

	assert.Equal(t, NeverSeen, tr.State("alice"))
	require.True(t, tr.Begin("alice", t0))
	assert.Equal(t, Seen, tr.State("alice"))

	tr.Complete("alice", t0)
	assert.Equal(t, Marked, tr.State("alice"))

	assert.False(t, tr.Begin("alice", t0.Add(time.Second)))
	assert.False(t, tr.Begin("alice", t0.Add(time.Hour)))
	assert.Equal(t, []string{"alice"}, tr.Marked())
	assert.Equal(t, 1, tr.MarkedCount())
}

func TestTracker_InFlightBlocksSecondBegin(t *testing.T) {
	tr := NewTracker()

	require.True(t, tr.Begin("alice", t0))
	assert.False(t, tr.Begin("alice", t0), "second face of the same identity in one frame")
}

func TestTracker_FailAllowsRetryWithoutBackoff(t *testing.T) {
	tr := NewTracker()

	require.True(t, tr.Begin("alice", t0))
	tr.Fail("alice", t0)
	assert.Equal(t, Seen, tr.State("alice"))
	assert.Empty(t, tr.Marked())

	require.True(t, tr.Begin("alice", t0.Add(time.Millisecond)))
	tr.Complete("alice", t0.Add(time.Millisecond))
	assert.Equal(t, Marked, tr.State("alice"))
}

func TestTracker_FailBackoff(t *testing.T) {
	tr := NewTracker(WithRetryBackoff(time.Second, 4*time.Second))

	require.True(t, tr.Begin("alice", t0))
	next := tr.Fail("alice", t0)
	assert.Equal(t, t0.Add(time.Second), next)

	assert.False(t, tr.Begin("alice", t0.Add(500*time.Millisecond)))
	require.True(t, tr.Begin("alice", t0.Add(time.Second)))

	now := t0.Add(time.Second)
	next = tr.Fail("alice", now)
	assert.Equal(t, now.Add(2*time.Second), next)

	now = next
	require.True(t, tr.Begin("alice", now))
	next = tr.Fail("alice", now)
	assert.Equal(t, now.Add(4*time.Second), next)

	now = next
	require.True(t, tr.Begin("alice", now))
	next = tr.Fail("alice", now)
	assert.Equal(t, now.Add(4*time.Second), next, "capped at max interval")
}

func TestTracker_BackoffIsPerIdentity(t *testing.T) {
	tr := NewTracker(WithRetryBackoff(time.Minute, time.Minute))

	require.True(t, tr.Begin("alice", t0))
	tr.Fail("alice", t0)

	assert.True(t, tr.Begin("bob", t0))
	assert.False(t, tr.Begin("alice", t0))
}

func TestTracker_CompleteAfterMarkIsIdempotent(t *testing.T) {
	tr := NewTracker()

	require.True(t, tr.Begin("alice", t0))
	tr.Complete("alice", t0)
	tr.Fail("alice", t0)

	assert.Equal(t, Marked, tr.State("alice"))
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Begin("bob", t0))
	require.True(t, tr.Begin("alice", t0))
	tr.Complete("alice", t0.Add(time.Second))
	tr.Fail("bob", t0.Add(time.Second))

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alice", snap[0].Identity)
	assert.Equal(t, "marked", snap[0].State)
	assert.Equal(t, "bob", snap[1].Identity)
	assert.Equal(t, "seen", snap[1].State)
	assert.Equal(t, 1, snap[1].Attempts)
}

func TestTracker_ConcurrentBeginDeliversOnce(t *testing.T) {
	tr := NewTracker()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Begin("alice", t0) {
				wins.Add(1)
				tr.Complete("alice", t0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, Marked, tr.State("alice"))
}
