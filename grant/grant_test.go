package grant

import "testing"

func TestConfigureRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero overcommit", Config{MaxOvercommit: 0, GrantIncrement: 1, NumPriorities: 1}},
		{"zero increment", Config{MaxOvercommit: 1, GrantIncrement: 0, NumPriorities: 1}},
		{"zero priorities", Config{MaxOvercommit: 1, GrantIncrement: 1, NumPriorities: 0}},
	}
	for _, tc := range cases {
		var q Queue
		if err := q.Configure(tc.cfg); err != ErrInvalidConfig {
			t.Errorf("%s: want ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestRecomputePrefersSmallestRemainder(t *testing.T) {
	var q Queue
	err := q.Configure(Config{MaxOvercommit: 2, GrantIncrement: 1000, RTTBytes: 10000, NumPriorities: 4})
	if err != nil {
		t.Fatal(err)
	}
	// A has the most remaining (lowest priority), C the least (highest priority).
	q.Upsert(Key{Owner: "A"}, 100000, 0, 0)
	q.Upsert(Key{Owner: "B"}, 50000, 0, 0)
	q.Upsert(Key{Owner: "C"}, 5000, 0, 0)

	actions := q.Recompute()
	if len(actions) != 2 {
		t.Fatalf("want 2 actions (MaxOvercommit=2), got %d", len(actions))
	}
	byOwner := map[string]Action{}
	for _, a := range actions {
		byOwner[a.Key.Owner.(string)] = a
	}
	if _, ok := byOwner["A"]; ok {
		t.Fatalf("A has the largest remainder and should not be in the top MaxOvercommit")
	}
	c, ok := byOwner["C"]
	if !ok {
		t.Fatalf("C has the smallest remainder and must be granted")
	}
	b, ok := byOwner["B"]
	if !ok {
		t.Fatalf("B must be granted (2nd smallest remainder)")
	}
	if c.Priority <= b.Priority {
		t.Errorf("C (smaller remainder) wants a strictly higher priority than B: got C=%d B=%d", c.Priority, b.Priority)
	}
}

func TestRecomputeClampsToTotalLength(t *testing.T) {
	var q Queue
	if err := q.Configure(Config{MaxOvercommit: 1, GrantIncrement: 10000, RTTBytes: 1000, NumPriorities: 8}); err != nil {
		t.Fatal(err)
	}
	q.Upsert(Key{Owner: "solo"}, 500, 0, 100)
	actions := q.Recompute()
	if len(actions) != 1 {
		t.Fatalf("want 1 action, got %d", len(actions))
	}
	if actions[0].Incoming != 500 {
		t.Errorf("incoming should clamp to total length 500, got %d", actions[0].Incoming)
	}
}

func TestRemoveForgetsMember(t *testing.T) {
	var q Queue
	if err := q.Configure(Config{MaxOvercommit: 4, GrantIncrement: 1, RTTBytes: 1, NumPriorities: 2}); err != nil {
		t.Fatal(err)
	}
	key := Key{Owner: "x"}
	q.Upsert(key, 10, 0, 0)
	if !q.Contains(key) {
		t.Fatal("expected member present after Upsert")
	}
	q.Remove(key)
	if q.Contains(key) {
		t.Fatal("expected member gone after Remove")
	}
	q.Remove(key) // idempotent
}
