package ot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Common errors.
var (
	// ErrLengthMismatch is returned when an operation's base length does not
	// match the length of the content it is applied to.
	ErrLengthMismatch = errors.New("operation base length does not match content length")

	// ErrIncompatibleLengths is returned when two operations cannot be
	// composed or transformed because their lengths do not line up.
	ErrIncompatibleLengths = errors.New("operations have incompatible lengths")
)

// StepType identifies the kind of step within a TextOperation.
type StepType int

const (
	Retain StepType = iota
	Insert
	Delete
)

// Step is a single component of a TextOperation: retain N characters,
// insert text, or delete N characters. Insert and delete steps carry the
// author and timestamp so composed and transformed operations remain
// attributable.
type Step struct {
	Type      StepType
	N         int    // Character count for retain and delete
	Text      string // Inserted text
	UserID    string
	Timestamp time.Time
}

// Len returns the number of characters the step spans.
func (s Step) Len() int {
	if s.Type == Insert {
		return utf8.RuneCountInString(s.Text)
	}

	return s.N
}

// TextOperation is an ordered sequence of steps describing an edit.
// BaseLen is the length of the document the operation applies to;
// TargetLen is the length of the document after applying it.
// Build operations with the Retain/Insert/Delete methods, which keep
// the length bookkeeping consistent.
type TextOperation struct {
	Steps     []Step
	BaseLen   int
	TargetLen int
}

// New creates an empty operation.
func New() *TextOperation {
	return &TextOperation{}
}

// Retain appends a retain step. Adjacent retains are merged.
func (op *TextOperation) Retain(n int) *TextOperation {
	if n <= 0 {
		return op
	}

	op.BaseLen += n
	op.TargetLen += n

	if last := op.lastStep(); last != nil && last.Type == Retain {
		last.N += n

		return op
	}

	op.Steps = append(op.Steps, Step{Type: Retain, N: n})

	return op
}

// Insert appends an insert step attributed to userID at the given time.
// Adjacent inserts by the same user are merged.
func (op *TextOperation) Insert(text, userID string, at time.Time) *TextOperation {
	if text == "" {
		return op
	}

	op.TargetLen += utf8.RuneCountInString(text)

	if last := op.lastStep(); last != nil && last.Type == Insert && last.UserID == userID {
		last.Text += text

		return op
	}

	op.Steps = append(op.Steps, Step{Type: Insert, Text: text, UserID: userID, Timestamp: at})

	return op
}

// Delete appends a delete step attributed to userID at the given time.
// Adjacent deletes by the same user are merged.
func (op *TextOperation) Delete(n int, userID string, at time.Time) *TextOperation {
	if n <= 0 {
		return op
	}

	op.BaseLen += n

	if last := op.lastStep(); last != nil && last.Type == Delete && last.UserID == userID {
		last.N += n

		return op
	}

	op.Steps = append(op.Steps, Step{Type: Delete, N: n, UserID: userID, Timestamp: at})

	return op
}

func (op *TextOperation) lastStep() *Step {
	if len(op.Steps) == 0 {
		return nil
	}

	return &op.Steps[len(op.Steps)-1]
}

// append adds a step through the builder methods so merging and length
// bookkeeping stay consistent when steps are split during compose and
// transform.
func (op *TextOperation) append(s Step) {
	switch s.Type {
	case Retain:
		op.Retain(s.N)
	case Insert:
		op.Insert(s.Text, s.UserID, s.Timestamp)
	case Delete:
		op.Delete(s.N, s.UserID, s.Timestamp)
	}
}

// IsNoop returns true if the operation changes nothing (retains only).
func (op *TextOperation) IsNoop() bool {
	for _, s := range op.Steps {
		if s.Type != Retain {
			return false
		}
	}

	return true
}

// HasDeletes returns true if any step deletes content.
func (op *TextOperation) HasDeletes() bool {
	for _, s := range op.Steps {
		if s.Type == Delete {
			return true
		}
	}

	return false
}

// FirstEditOffset returns the character offset of the first insert or
// delete step, or -1 for a no-op.
func (op *TextOperation) FirstEditOffset() int {
	offset := 0

	for _, s := range op.Steps {
		if s.Type != Retain {
			return offset
		}

		offset += s.N
	}

	return -1
}

// LatestTimestamp returns the most recent step timestamp, and false if no
// step carries one.
func (op *TextOperation) LatestTimestamp() (time.Time, bool) {
	var latest time.Time

	found := false

	for _, s := range op.Steps {
		if s.Type == Retain || s.Timestamp.IsZero() {
			continue
		}

		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}

		found = true
	}

	return latest, found
}

// PrimaryAuthor returns the author of the first insert or delete step.
func (op *TextOperation) PrimaryAuthor() string {
	for _, s := range op.Steps {
		if s.Type != Retain {
			return s.UserID
		}
	}

	return ""
}

// Apply executes the operation against content and returns the new text.
// Returns ErrLengthMismatch if the operation's base length does not equal
// the content length.
func Apply(content string, op *TextOperation) (string, error) {
	runes := []rune(content)
	if len(runes) != op.BaseLen {
		return "", fmt.Errorf("%w: content is %d, operation expects %d",
			ErrLengthMismatch, len(runes), op.BaseLen)
	}

	var b strings.Builder

	pos := 0

	for _, s := range op.Steps {
		switch s.Type {
		case Retain:
			b.WriteString(string(runes[pos : pos+s.N]))
			pos += s.N
		case Insert:
			b.WriteString(s.Text)
		case Delete:
			pos += s.N
		}
	}

	return b.String(), nil
}

// stepJSON is the wire form of a step: exactly one of retain, insert, or
// delete is set.
type stepJSON struct {
	Retain    *int       `json:"retain,omitempty"`
	Insert    *string    `json:"insert,omitempty"`
	Delete    *int       `json:"delete,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// MarshalJSON encodes the step in its wire form.
func (s Step) MarshalJSON() ([]byte, error) {
	out := stepJSON{}

	switch s.Type {
	case Retain:
		out.Retain = &s.N
	case Insert:
		out.Insert = &s.Text
		out.UserID = s.UserID
	case Delete:
		out.Delete = &s.N
		out.UserID = s.UserID
	}

	if !s.Timestamp.IsZero() {
		ts := s.Timestamp
		out.Timestamp = &ts
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes a step from its wire form.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.Retain != nil:
		s.Type = Retain
		s.N = *raw.Retain
	case raw.Insert != nil:
		s.Type = Insert
		s.Text = *raw.Insert
	case raw.Delete != nil:
		s.Type = Delete
		s.N = *raw.Delete
	default:
		return errors.New("step must be one of retain, insert, or delete")
	}

	s.UserID = raw.UserID

	if raw.Timestamp != nil {
		s.Timestamp = *raw.Timestamp
	}

	return nil
}

// MarshalJSON encodes the operation as its list of steps.
func (op TextOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Steps []Step `json:"steps"`
	}{Steps: op.Steps})
}

// UnmarshalJSON decodes the operation and rebuilds it through the builder
// so lengths are recomputed and adjacent steps normalized.
func (op *TextOperation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Steps []Step `json:"steps"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rebuilt := New()

	for _, s := range raw.Steps {
		if s.N < 0 {
			return errors.New("negative step length")
		}

		rebuilt.append(s)
	}

	*op = *rebuilt

	return nil
}
