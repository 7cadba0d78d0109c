package alarm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/alarmd/internal/notify"
	"github.com/msageha/alarmd/internal/sound"
)

type fakePlayer struct {
	mu      sync.Mutex
	plays   int
	stops   int
	playing bool
}

func (p *fakePlayer) Play(bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.playing = true
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.playing = false
}

func (p *fakePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.stops
}

type fakeNotifier struct {
	mu        sync.Mutex
	pending   int
	sounding  int
	cancelled []int
}

func (n *fakeNotifier) ShowAlarmPending() {
	n.mu.Lock()
	n.pending++
	n.mu.Unlock()
}

func (n *fakeNotifier) ShowAlarmSounding() {
	n.mu.Lock()
	n.sounding++
	n.mu.Unlock()
}

func (n *fakeNotifier) Cancel(id int) {
	n.mu.Lock()
	n.cancelled = append(n.cancelled, id)
	n.mu.Unlock()
}

func (n *fakeNotifier) soundingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sounding
}

func (n *fakeNotifier) cancelledIDs() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.cancelled...)
}

type harness struct {
	clock    *clockwork.FakeClock
	player   *fakePlayer
	notifier *fakeNotifier
	sched    *Scheduler

	mu          sync.Mutex
	transitions []Transition
	resolves    int
}

func newHarness(t *testing.T, resolveErr error) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		player:   &fakePlayer{},
		notifier: &fakeNotifier{},
	}
	resolver := ResolverFunc(func() (sound.Player, error) {
		h.mu.Lock()
		h.resolves++
		h.mu.Unlock()
		if resolveErr != nil {
			return nil, resolveErr
		}
		return h.player, nil
	})
	h.sched = New(resolver,
		WithClock(h.clock),
		WithNotifier(h.notifier),
		OnTransition(func(tr Transition) {
			h.mu.Lock()
			h.transitions = append(h.transitions, tr)
			h.mu.Unlock()
		}),
	)
	t.Cleanup(h.sched.Close)
	return h
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(d)
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, len(h.transitions))
	for i, tr := range h.transitions {
		out[i] = tr.To
	}
	return out
}

func TestStart_SoundsAfterDelay(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Start()
	assert.Equal(t, Pending, h.sched.State())
	snap := h.sched.Snapshot()
	assert.Equal(t, h.clock.Now().Add(DefaultDelay), snap.FireAt)

	h.advance(t, DefaultDelay-time.Millisecond)
	assert.Equal(t, Pending, h.sched.State())

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)

	plays, _ := h.player.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, h.notifier.soundingCount())
	assert.Equal(t, []State{Pending, Sounding}, h.states())
	assert.True(t, h.sched.Snapshot().FireAt.IsZero())
}

func TestStart_LastCallWins(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Start()
	h.advance(t, time.Second)
	h.sched.Start()

	// Five seconds after the first start: the replaced trigger must not fire.
	h.advance(t, 4*time.Second)
	assert.Never(t, func() bool { return h.sched.State() == Sounding }, 50*time.Millisecond, 5*time.Millisecond)

	// Five seconds after the second start.
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)

	plays, _ := h.player.counts()
	assert.Equal(t, 1, plays, "sounds exactly once")
}

func TestStop_WhilePendingNeverSounds(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Start()
	h.advance(t, 2*time.Second)
	h.sched.Stop()
	assert.Equal(t, Idle, h.sched.State())

	h.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return h.sched.State() != Idle }, 50*time.Millisecond, 5*time.Millisecond)

	plays, _ := h.player.counts()
	assert.Equal(t, 0, plays)
	assert.Equal(t, []int{notify.AlarmID}, h.notifier.cancelledIDs())
}

func TestStop_WhileIdleOnlyClearsNotification(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Stop()
	h.sched.Stop()

	assert.Equal(t, Idle, h.sched.State())
	assert.Empty(t, h.states())
	assert.Equal(t, []int{notify.AlarmID, notify.AlarmID}, h.notifier.cancelledIDs(), "a stale notification is still cleared")
	_, stops := h.player.counts()
	assert.Equal(t, 0, stops)
}

func TestStop_WhileSoundingSilences(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Start()
	h.advance(t, DefaultDelay)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)

	h.sched.Stop()
	assert.Equal(t, Idle, h.sched.State())
	assert.False(t, h.player.Playing())
	assert.Equal(t, []State{Pending, Sounding, Idle}, h.states())
}

func TestStart_WhileSoundingRestartsCountdown(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Start()
	h.advance(t, DefaultDelay)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)

	h.sched.Start()
	assert.Equal(t, Pending, h.sched.State())
	assert.False(t, h.player.Playing(), "sound is stopped while counting down again")

	h.advance(t, DefaultDelay)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)
	plays, _ := h.player.counts()
	assert.Equal(t, 2, plays)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.resolves, "sound is resolved once")
}

func TestFire_WithoutSoundIsNotificationOnly(t *testing.T) {
	h := newHarness(t, sound.ErrResourceUnavailable)

	h.sched.Start()
	h.advance(t, DefaultDelay)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)

	assert.Equal(t, 1, h.notifier.soundingCount())
	assert.False(t, h.sched.Snapshot().SoundAvailable)

	assert.NotPanics(t, h.sched.Stop)
	assert.Equal(t, Idle, h.sched.State())
}

func TestClose_CancelsPending(t *testing.T) {
	h := newHarness(t, nil)

	h.sched.Start()
	h.sched.Close()
	h.clock.Advance(DefaultDelay)
	assert.Never(t, func() bool { return h.sched.State() != Idle }, 50*time.Millisecond, 5*time.Millisecond)

	h.sched.Start()
	assert.Equal(t, Idle, h.sched.State(), "closed scheduler ignores Start")
}

func TestConcurrentStarts(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sched.Start()
		}()
	}
	wg.Wait()

	h.advance(t, DefaultDelay)
	require.Eventually(t, func() bool { return h.sched.State() == Sounding }, time.Second, time.Millisecond)
	assert.Never(t, func() bool {
		plays, _ := h.player.counts()
		return plays > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestNotificationFollowsState(t *testing.T) {
	center := notify.NewCenter(nil, "alarmd", nil)
	sched := New(nil, WithClock(clockwork.NewFakeClock()), WithNotifier(center))
	t.Cleanup(sched.Close)

	sched.Start()
	n, ok := center.Get(notify.AlarmID)
	require.True(t, ok)
	assert.Equal(t, notify.AlarmPendingText, n.Text)

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); sched.Start() }()
		go func() { defer wg.Done(); sched.Stop() }()
		wg.Wait()

		_, shown := center.Get(notify.AlarmID)
		assert.Equal(t, sched.State() == Pending, shown, "round %d", round)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "sounding", Sounding.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	in := Snapshot{State: Pending, FireAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), SoundAvailable: true}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"pending"`)

	var out Snapshot
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.State, out.State)
	assert.True(t, in.FireAt.Equal(out.FireAt))

	assert.Error(t, json.Unmarshal([]byte(`{"state":"ringing"}`), &out))
}
