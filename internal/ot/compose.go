package ot

import "fmt"

// stepReader walks an operation's steps, allowing partial consumption so
// compose and transform can split steps at arbitrary boundaries.
type stepReader struct {
	steps []Step
	i     int
	used  int // Characters already consumed from the current step
}

func newStepReader(steps []Step) *stepReader {
	return &stepReader{steps: steps}
}

// peek returns the current step without consuming it.
func (r *stepReader) peek() (Step, bool) {
	if r.i >= len(r.steps) {
		return Step{}, false
	}

	return r.steps[r.i], true
}

// remaining returns how many characters are left in the current step.
func (r *stepReader) remaining() int {
	return r.steps[r.i].Len() - r.used
}

// take consumes up to n characters of the current step and returns the
// consumed portion as a step with the same attribution.
func (r *stepReader) take(n int) Step {
	s := r.steps[r.i]

	if rem := s.Len() - r.used; n > rem {
		n = rem
	}

	out := s
	if s.Type == Insert {
		runes := []rune(s.Text)
		out.Text = string(runes[r.used : r.used+n])
	} else {
		out.N = n
	}

	r.used += n
	if r.used >= s.Len() {
		r.i++
		r.used = 0
	}

	return out
}

// Compose produces a single operation equivalent to applying a then b.
// Returns ErrIncompatibleLengths if b's base length does not equal a's
// target length.
func Compose(a, b *TextOperation) (*TextOperation, error) {
	if a.TargetLen != b.BaseLen {
		return nil, fmt.Errorf("%w: first targets %d, second expects %d",
			ErrIncompatibleLengths, a.TargetLen, b.BaseLen)
	}

	out := New()
	ra := newStepReader(a.Steps)
	rb := newStepReader(b.Steps)

	for {
		sa, okA := ra.peek()
		sb, okB := rb.peek()

		if !okA && !okB {
			break
		}

		// Deletes from a happen before b ever sees the text.
		if okA && sa.Type == Delete {
			out.append(ra.take(sa.Len()))

			continue
		}

		// Inserts from b are unaffected by a.
		if okB && sb.Type == Insert {
			out.append(rb.take(sb.Len()))

			continue
		}

		if !okA || !okB {
			return nil, fmt.Errorf("%w: step lengths do not line up", ErrIncompatibleLengths)
		}

		n := ra.remaining()
		if m := rb.remaining(); m < n {
			n = m
		}

		switch {
		case sa.Type == Retain && sb.Type == Retain:
			ra.take(n)
			rb.take(n)
			out.Retain(n)
		case sa.Type == Retain && sb.Type == Delete:
			ra.take(n)
			out.append(rb.take(n))
		case sa.Type == Insert && sb.Type == Retain:
			out.append(ra.take(n))
			rb.take(n)
		case sa.Type == Insert && sb.Type == Delete:
			// b deletes what a inserted; the two cancel out.
			ra.take(n)
			rb.take(n)
		}
	}

	return out, nil
}
