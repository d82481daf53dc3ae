package sessionstate

import "testing"

func TestTracker_DeliversToCurrentGeneration(t *testing.T) {
	tracker := NewTracker[Key, string](nil)
	key := Key{Kind: KindVariable, FrameID: 1, Subject: "locals-self"}

	var got []string
	tracker.Subscribe(key, true, func(v string) { got = append(got, v) }, func() {
		t.Fatal("unexpected expiry")
	})

	if n := tracker.Resolve(key, "first"); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if n := tracker.Resolve(key, "second"); n != 0 {
		t.Fatalf("expected once subscription to be removed, got %d deliveries", n)
	}
	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("unexpected deliveries: %#v", got)
	}
}

func TestTracker_KeysAreStructured(t *testing.T) {
	tracker := NewTracker[Key, int](nil)
	hits := map[Key]int{}
	keys := []Key{
		{Kind: KindVariable, FrameID: 1, Subject: "a"},
		{Kind: KindVariable, FrameID: 12, Subject: ""},
		{Kind: KindWatch, FrameID: 1, Subject: "a"},
	}
	for _, key := range keys {
		key := key
		tracker.Subscribe(key, true, func(v int) { hits[key] += v }, nil)
	}

	// frame 1 + path "2" must not collide with frame 12 + empty path.
	tracker.Resolve(Key{Kind: KindVariable, FrameID: 1, Subject: "2"}, 1)
	tracker.Resolve(keys[0], 5)

	if hits[keys[0]] != 5 || hits[keys[1]] != 0 || hits[keys[2]] != 0 {
		t.Fatalf("unexpected hits: %#v", hits)
	}
	if tracker.Pending() != 2 {
		t.Fatalf("expected 2 pending waiters, got %d", tracker.Pending())
	}
}

func TestTracker_AdvanceExpiresOutstandingWaiters(t *testing.T) {
	tracker := NewTracker[Key, string](nil)
	var order []string
	tracker.Subscribe(Key{Kind: KindScopes, FrameID: 0}, true, func(string) {
		t.Fatal("success after advance")
	}, func() { order = append(order, "scopes") })
	tracker.Subscribe(Key{Kind: KindVariable, FrameID: 0, Subject: "locals-x"}, true, func(string) {
		t.Fatal("success after advance")
	}, func() { order = append(order, "variable") })

	if gen := tracker.Advance(); gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}
	if len(order) != 2 || order[0] != "scopes" || order[1] != "variable" {
		t.Fatalf("expected expiry in registration order, got %#v", order)
	}
	if tracker.Resolve(Key{Kind: KindScopes, FrameID: 0}, "late") != 0 {
		t.Fatal("expected late reply to find no waiters")
	}
}

func TestTracker_GenerationIncreasesByOnePerAdvance(t *testing.T) {
	tracker := NewTracker[Key, string](nil)
	for want := uint64(1); want <= 3; want++ {
		if got := tracker.Advance(); got != want {
			t.Fatalf("expected generation %d, got %d", want, got)
		}
	}
	if tracker.Generation() != 3 {
		t.Fatalf("unexpected generation: %d", tracker.Generation())
	}
}

func TestTracker_LivenessCheckExpiresOnResolve(t *testing.T) {
	live := true
	tracker := NewTracker[Key, string](func() bool { return live })
	key := Key{Kind: KindWatch, FrameID: 2, Subject: "#list"}

	expired := false
	tracker.Subscribe(key, true, func(string) { t.Fatal("success without a stack") }, func() { expired = true })

	live = false
	if n := tracker.Resolve(key, "value"); n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
	if !expired {
		t.Fatal("expected expiry callback")
	}
	if tracker.Pending() != 0 {
		t.Fatal("expected expired waiter to be removed")
	}
}

func TestTracker_PersistentSubscriptionAndCancel(t *testing.T) {
	tracker := NewTracker[Key, int](nil)
	key := Key{Kind: KindFullPath}
	total := 0
	cancel := tracker.Subscribe(key, false, func(v int) { total += v }, nil)

	tracker.Resolve(key, 1)
	tracker.Resolve(key, 2)
	cancel()
	tracker.Resolve(key, 4)

	if total != 3 {
		t.Fatalf("expected persistent deliveries until cancel, got %d", total)
	}
	if tracker.Pending() != 0 {
		t.Fatalf("expected no pending waiters, got %d", tracker.Pending())
	}
}

func TestTracker_PersistentSubscriptionMayCancelItself(t *testing.T) {
	tracker := NewTracker[Key, int](nil)
	key := Key{Kind: KindFullPath}
	seen := 0
	var cancel func()
	cancel = tracker.Subscribe(key, false, func(int) {
		seen++
		if seen == 2 {
			cancel()
		}
	}, nil)

	tracker.Resolve(key, 0)
	tracker.Resolve(key, 0)
	tracker.Resolve(key, 0)

	if seen != 2 {
		t.Fatalf("expected delivery to stop after self-cancel, got %d", seen)
	}
	if tracker.Pending() != 0 {
		t.Fatalf("expected no pending waiters, got %d", tracker.Pending())
	}
}

func TestTracker_CallbackMayResubscribeSameKey(t *testing.T) {
	tracker := NewTracker[Key, int](nil)
	key := Key{Kind: KindScopesReady, FrameID: 0}
	calls := 0
	var subscribe func()
	subscribe = func() {
		tracker.Subscribe(key, true, func(int) {
			calls++
			if calls == 1 {
				subscribe()
			}
		}, nil)
	}
	subscribe()

	tracker.Resolve(key, 0)
	if tracker.Pending() != 1 {
		t.Fatalf("expected re-registered waiter, got %d pending", tracker.Pending())
	}
	tracker.Resolve(key, 0)
	if calls != 2 || tracker.Pending() != 0 {
		t.Fatalf("unexpected state: calls=%d pending=%d", calls, tracker.Pending())
	}
}

func TestPhase_Transitions(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseUninitialized, PhaseInitializing, true},
		{PhaseUninitialized, PhaseRunning, false},
		{PhaseAwaitingConnections, PhaseRunning, true},
		{PhaseRunning, PhaseStopped, true},
		{PhaseStopped, PhaseRunning, true},
		{PhaseStopped, PhaseDisconnecting, true},
		{PhaseRunning, PhaseTerminated, false},
		{PhaseServerBinding, PhaseInitializing, true},
		{PhaseDisconnecting, PhaseTerminated, true},
		{PhaseTerminated, PhaseDisconnecting, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
