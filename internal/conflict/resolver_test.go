package conflict_test

import (
	"testing"
	"time"

	"github.com/serroba/collab-core/internal/conflict"
	"github.com/serroba/collab-core/internal/ot"
	"github.com/stretchr/testify/require"
)

var (
	early = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	late  = early.Add(time.Minute)
)

func newResolver(t *testing.T) *conflict.Resolver {
	t.Helper()

	return conflict.NewResolver(conflict.ResolverConfig{})
}

func TestResolve_TimestampWins(t *testing.T) {
	t.Parallel()

	older := ot.New().Retain(2).Delete(2, "alice", early).Retain(1)
	newer := ot.New().Retain(1).Delete(3, "bob", late).Retain(1)

	res := newResolver(t).Resolve(conflict.Pair{Left: older, Right: newer})

	require.True(t, res.Resolved)

	if res.Strategy != conflict.StrategyTimestamp {
		t.Errorf("expected timestamp strategy, got %q", res.Strategy)
	}

	if res.Winner != newer {
		t.Error("later operation should win")
	}

	if res.Discarded != older {
		t.Error("earlier operation should be reported as discarded")
	}
}

func TestResolve_EqualTimestampsFallThrough(t *testing.T) {
	t.Parallel()

	// Same timestamp on both sides: the timestamp strategy declines and the
	// chain continues. Both are insert-only, so content-merge picks it up.
	a := ot.New().Insert("A", "alice", early).Retain(5)
	b := ot.New().Retain(5).Insert("B", "bob", early)

	res := newResolver(t).Resolve(conflict.Pair{Left: a, Right: b})

	require.True(t, res.Resolved)

	if res.Strategy != conflict.StrategyContentMerge {
		t.Errorf("expected content-merge after timestamp tie, got %q", res.Strategy)
	}
}

func TestResolve_UserPriorityWins(t *testing.T) {
	t.Parallel()

	// No timestamps, so the chain reaches user-priority.
	a := ot.New().Retain(2).Delete(2, "alice", time.Time{}).Retain(1)
	b := ot.New().Retain(1).Delete(3, "bob", time.Time{}).Retain(1)

	res := newResolver(t).Resolve(conflict.Pair{
		Left:           a,
		Right:          b,
		UserPriorities: map[string]int{"alice": 10, "bob": 5},
	})

	require.True(t, res.Resolved)

	if res.Strategy != conflict.StrategyUserPriority {
		t.Errorf("expected user-priority strategy, got %q", res.Strategy)
	}

	if res.Winner != a {
		t.Error("alice has higher priority and should win")
	}
}

func TestResolve_ContentMerge(t *testing.T) {
	t.Parallel()

	// Insert-only operations without timestamps merge into one.
	a := ot.New().Retain(2).Insert("A", "alice", time.Time{}).Retain(3)
	b := ot.New().Retain(4).Insert("B", "bob", time.Time{}).Retain(1)

	res := newResolver(t).Resolve(conflict.Pair{Left: a, Right: b})

	require.True(t, res.Resolved)
	require.NotNil(t, res.Merged)

	if res.Strategy != conflict.StrategyContentMerge {
		t.Errorf("expected content-merge strategy, got %q", res.Strategy)
	}

	result, err := ot.Apply("hello", res.Merged)
	require.NoError(t, err)

	if result != "heAllBo" {
		t.Errorf("expected 'heAllBo', got %q", result)
	}
}

func TestResolve_PositionBasedMerge(t *testing.T) {
	t.Parallel()

	base := "0123456789012345678901234"

	// Deletes at opposite ends of the document, no timestamps, no user
	// priorities: far enough apart for the position heuristic to merge.
	a := ot.New().Delete(2, "alice", time.Time{}).Retain(23)
	b := ot.New().Retain(23).Delete(2, "bob", time.Time{})

	res := newResolver(t).Resolve(conflict.Pair{Left: a, Right: b, BaseContent: base})

	require.True(t, res.Resolved)
	require.NotNil(t, res.Merged)

	if res.Strategy != conflict.StrategyPosition {
		t.Errorf("expected position strategy, got %q", res.Strategy)
	}

	result, err := ot.Apply(base, res.Merged)
	require.NoError(t, err)

	if result != "234567890123456789012" {
		t.Errorf("unexpected merge result %q", result)
	}
}

func TestResolve_OverlappingEditsEscalateToManual(t *testing.T) {
	t.Parallel()

	// Overlapping deletes, no timestamps, no user priorities: every
	// strategy declines and both operations come back intact.
	a := ot.New().Retain(1).Delete(3, "alice", time.Time{}).Retain(1)
	b := ot.New().Retain(2).Delete(3, "bob", time.Time{})

	res := newResolver(t).Resolve(conflict.Pair{Left: a, Right: b})

	if res.Resolved {
		t.Fatal("overlapping edits without tie-break metadata must not auto-resolve")
	}

	if res.Strategy != conflict.StrategyManual {
		t.Errorf("expected manual strategy, got %q", res.Strategy)
	}

	if res.Left != a || res.Right != b {
		t.Error("manual resolution must carry both operations intact")
	}
}

func TestResolve_PositionThresholdIsTunable(t *testing.T) {
	t.Parallel()

	resolver := conflict.NewResolver(conflict.ResolverConfig{PositionThreshold: 2})

	base := "hello"
	a := ot.New().Delete(1, "alice", time.Time{}).Retain(4)
	b := ot.New().Retain(4).Delete(1, "bob", time.Time{})

	res := resolver.Resolve(conflict.Pair{Left: a, Right: b, BaseContent: base})

	require.True(t, res.Resolved)

	if res.Strategy != conflict.StrategyPosition {
		t.Errorf("expected position strategy with threshold 2, got %q", res.Strategy)
	}
}

func TestDetectConflict_CleanPairsDoNotConflict(t *testing.T) {
	t.Parallel()

	a := ot.New().Retain(2).Insert("A", "alice", early).Retain(3)
	b := ot.New().Retain(4).Insert("B", "bob", early).Retain(1)

	if conflict.DetectConflict(a, b, "hello") {
		t.Error("transformable pair should not be flagged")
	}
}

func TestDetectConflict_ApplyFailureIsConflict(t *testing.T) {
	t.Parallel()

	// Mismatched base lengths cannot even be transformed.
	a := ot.New().Retain(5)
	b := ot.New().Retain(3)

	if !conflict.DetectConflict(a, b, "hello") {
		t.Error("transform failure must be treated as a conflict signal")
	}
}
