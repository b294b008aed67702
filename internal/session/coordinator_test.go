package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/models"
)

func TestFingerprintIgnoresOrderAndDuplicates(t *testing.T) {
	assert.Equal(t, "a,b,c", Fingerprint([]string{"c", "a", "b"}))
	assert.Equal(t, Fingerprint([]string{"b", "a"}), Fingerprint([]string{"a", " b ", "a", ""}))
	assert.Equal(t, "", Fingerprint(nil))
	assert.Equal(t, []string{}, NormalizeCart([]string{" ", ""}))
}

func TestCoordinatorLifecycle(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())

	cur, last := c.State("s1", models.ViewCart)
	assert.Equal(t, models.StateIdle, cur)
	assert.Equal(t, models.StateIdle, last)

	tk := c.Begin("s1", models.ViewCart, "a,b")
	cur, _ = c.State("s1", models.ViewCart)
	assert.Equal(t, models.StateFetching, cur)

	state, ok := c.Finish(tk, true)
	require.True(t, ok)
	assert.Equal(t, models.StateDegraded, state)

	cur, last = c.State("s1", models.ViewCart)
	assert.Equal(t, models.StateIdle, cur)
	assert.Equal(t, models.StateDegraded, last)
}

func TestCoordinatorSupersedesOlderRequest(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())

	first := c.Begin("s1", models.ViewCart, "a")
	second := c.Begin("s1", models.ViewCart, "a,b")

	_, ok := c.Finish(first, false)
	assert.False(t, ok)
	cur, last := c.State("s1", models.ViewCart)
	assert.Equal(t, models.StateFetching, cur, "superseded result must not change state")
	assert.Equal(t, models.StateIdle, last)

	state, ok := c.Finish(second, false)
	require.True(t, ok)
	assert.Equal(t, models.StateMerged, state)
}

func TestCoordinatorSessionsAreIndependent(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())

	a := c.Begin("s1", models.ViewCart, "x")
	b := c.Begin("s2", models.ViewCart, "x")
	_, ok := c.Finish(a, false)
	assert.True(t, ok)
	_, ok = c.Finish(b, true)
	assert.True(t, ok)
}

func TestCoordinatorViewsAreIndependent(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())

	cart := c.Begin("s1", models.ViewCart, "a,b")
	detail := c.Begin("s1", models.ViewDetail, "c")

	state, ok := c.Finish(cart, true)
	require.True(t, ok, "a detail request must not supersede the cart request")
	assert.Equal(t, models.StateDegraded, state)
	assert.True(t, c.ClaimNotice(context.Background(), cart))

	cur, _ := c.State("s1", models.ViewDetail)
	assert.Equal(t, models.StateFetching, cur)
	_, ok = c.Finish(detail, false)
	assert.True(t, ok)

	again := c.Begin("s1", models.ViewDetail, "a,b")
	assert.False(t, c.ClaimNotice(context.Background(), again), "notices are per cart across views")
}

func TestNoticeShownOncePerFingerprint(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())
	ctx := context.Background()

	assert.True(t, c.ClaimNotice(ctx, c.Begin("s1", models.ViewCart, "a")))
	assert.False(t, c.ClaimNotice(ctx, c.Begin("s1", models.ViewCart, "a")))
	assert.True(t, c.ClaimNotice(ctx, c.Begin("s1", models.ViewCart, "a,b")), "a new cart gets its own notice")
	assert.True(t, c.ClaimNotice(ctx, c.Begin("s2", models.ViewCart, "a")), "other sessions are unaffected")
}

func TestNoticeClaimIsExclusiveUnderConcurrency(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ClaimNotice(context.Background(), Ticket{SessionID: "s1", Fingerprint: "a"}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestAnonymousTickets(t *testing.T) {
	c := NewCoordinator(nil, time.Hour, logger.Nop())

	tk := c.Begin("", models.ViewCart, "a")
	assert.True(t, tk.Anonymous())
	assert.True(t, c.ClaimNotice(context.Background(), tk))
	assert.True(t, c.ClaimNotice(context.Background(), tk))

	state, ok := c.Finish(tk, false)
	assert.True(t, ok)
	assert.Equal(t, models.StateMerged, state)
}

type failingNotices struct{}

func (failingNotices) Claim(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestNoticeStoreErrorSuppressesNotice(t *testing.T) {
	c := NewCoordinator(failingNotices{}, time.Hour, logger.Nop())
	assert.False(t, c.ClaimNotice(context.Background(), c.Begin("s1", models.ViewCart, "a")))
}

func TestSweepForgetsIdleSessions(t *testing.T) {
	notices := NewMemoryNoticeStore(time.Hour)
	c := NewCoordinator(notices, time.Hour, logger.Nop())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start }
	notices.now = func() time.Time { return start }

	idle := c.Begin("idle", models.ViewCart, "a")
	c.Finish(idle, false)
	c.ClaimNotice(context.Background(), idle)
	c.Begin("busy", models.ViewCart, "b")

	assert.Zero(t, c.Sweep(start.Add(time.Minute)))

	removed := c.Sweep(start.Add(2 * time.Hour))
	assert.Equal(t, 2, removed, "one idle session and one expired notice")

	cur, _ := c.State("busy", models.ViewCart)
	assert.Equal(t, models.StateFetching, cur, "in-flight sessions survive a sweep")

	_, ok := c.Finish(idle, false)
	assert.False(t, ok, "forgotten session cannot be finished")
}

func TestCoordinatorServeStopsOnCancel(t *testing.T) {
	c := NewCoordinator(nil, 20*time.Millisecond, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop")
	}
	assert.Equal(t, "session-sweeper", c.String())
}
