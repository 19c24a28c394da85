package ot_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/serroba/collab-core/internal/ot"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApply_InsertAndRetain(t *testing.T) {
	t.Parallel()

	op := ot.New().Retain(5).Insert(" world", "alice", testTime)

	result, err := ot.Apply("hello", op)
	require.NoError(t, err)

	if result != "hello world" {
		t.Errorf("expected 'hello world', got %q", result)
	}
}

func TestApply_Delete(t *testing.T) {
	t.Parallel()

	op := ot.New().Delete(1, "bob", testTime).Retain(4)

	result, err := ot.Apply("hello", op)
	require.NoError(t, err)

	if result != "ello" {
		t.Errorf("expected 'ello', got %q", result)
	}
}

func TestApply_MixedSteps(t *testing.T) {
	t.Parallel()

	// "hello world" -> "hey world"
	op := ot.New().
		Retain(2).
		Delete(3, "alice", testTime).
		Insert("y", "alice", testTime).
		Retain(6)

	result, err := ot.Apply("hello world", op)
	require.NoError(t, err)

	if result != "hey world" {
		t.Errorf("expected 'hey world', got %q", result)
	}
}

func TestApply_LengthMismatch(t *testing.T) {
	t.Parallel()

	op := ot.New().Retain(3)

	_, err := ot.Apply("hello", op)

	if !errors.Is(err, ot.ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestApply_Unicode(t *testing.T) {
	t.Parallel()

	// Base length counts runes, not bytes: "hé" is 3 bytes but 2 runes.
	op := ot.New().Retain(2).Insert("é", "alice", testTime)

	result, err := ot.Apply("hé", op)
	require.NoError(t, err)

	if result != "héé" {
		t.Errorf("expected 'héé', got %q", result)
	}
}

func TestBuilder_MergesAdjacentSteps(t *testing.T) {
	t.Parallel()

	op := ot.New().
		Retain(2).
		Retain(3).
		Insert("a", "alice", testTime).
		Insert("b", "alice", testTime).
		Delete(1, "alice", testTime).
		Delete(2, "alice", testTime)

	if len(op.Steps) != 3 {
		t.Fatalf("expected 3 merged steps, got %d", len(op.Steps))
	}

	if op.BaseLen != 8 {
		t.Errorf("expected base length 8, got %d", op.BaseLen)
	}

	if op.TargetLen != 7 {
		t.Errorf("expected target length 7, got %d", op.TargetLen)
	}
}

func TestBuilder_DoesNotMergeDifferentAuthors(t *testing.T) {
	t.Parallel()

	op := ot.New().
		Insert("a", "alice", testTime).
		Insert("b", "bob", testTime)

	if len(op.Steps) != 2 {
		t.Errorf("inserts by different users must stay separate, got %d steps", len(op.Steps))
	}
}

func TestBuilder_IgnoresEmptySteps(t *testing.T) {
	t.Parallel()

	op := ot.New().Retain(0).Insert("", "alice", testTime).Delete(0, "alice", testTime)

	if len(op.Steps) != 0 {
		t.Errorf("expected no steps, got %d", len(op.Steps))
	}

	if !op.IsNoop() {
		t.Error("empty operation should be a no-op")
	}
}

func TestFirstEditOffset(t *testing.T) {
	t.Parallel()

	op := ot.New().Retain(5).Insert("x", "alice", testTime)
	if got := op.FirstEditOffset(); got != 5 {
		t.Errorf("expected offset 5, got %d", got)
	}

	noop := ot.New().Retain(5)
	if got := noop.FirstEditOffset(); got != -1 {
		t.Errorf("expected -1 for no-op, got %d", got)
	}
}

func TestLatestTimestamp(t *testing.T) {
	t.Parallel()

	early := testTime
	late := testTime.Add(time.Minute)

	op := ot.New().
		Insert("a", "alice", early).
		Retain(1).
		Delete(1, "alice", late)

	got, ok := op.LatestTimestamp()
	require.True(t, ok)

	if !got.Equal(late) {
		t.Errorf("expected %v, got %v", late, got)
	}

	_, ok = ot.New().Retain(3).LatestTimestamp()
	if ok {
		t.Error("retain-only operation should carry no timestamp")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	op := ot.New().
		Retain(2).
		Insert("hi", "alice", testTime).
		Delete(3, "bob", testTime)

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded ot.TextOperation
	require.NoError(t, json.Unmarshal(data, &decoded))

	if decoded.BaseLen != op.BaseLen || decoded.TargetLen != op.TargetLen {
		t.Errorf("lengths not recomputed: got base %d target %d", decoded.BaseLen, decoded.TargetLen)
	}

	require.Equal(t, op.Steps, decoded.Steps)
}

func TestJSON_RejectsUnknownStep(t *testing.T) {
	t.Parallel()

	var op ot.TextOperation

	err := json.Unmarshal([]byte(`{"steps":[{"userId":"alice"}]}`), &op)
	if err == nil {
		t.Error("expected error for step with no retain/insert/delete")
	}
}
