package ot

import "fmt"

// Priority names the side whose insert is ordered first when two
// operations insert at the same position. The authoritative server must
// choose the priority; replicas applying the same pair with the same
// priority converge to identical content.
type Priority int

const (
	PriorityLeft Priority = iota
	PriorityRight
)

// Transform takes two operations created against the same document state
// and returns (a', b') such that applying a then b' yields the same
// content as applying b then a'.
//
// Returns ErrIncompatibleLengths if the operations do not share a base
// length.
func Transform(a, b *TextOperation, priority Priority) (*TextOperation, *TextOperation, error) {
	if a.BaseLen != b.BaseLen {
		return nil, nil, fmt.Errorf("%w: left base is %d, right base is %d",
			ErrIncompatibleLengths, a.BaseLen, b.BaseLen)
	}

	aPrime := New()
	bPrime := New()
	ra := newStepReader(a.Steps)
	rb := newStepReader(b.Steps)

	for {
		sa, okA := ra.peek()
		sb, okB := rb.peek()

		if !okA && !okB {
			break
		}

		// Inserts are processed ahead of retains and deletes on the other
		// side. When both sides insert at the same point, priority decides
		// which text ends up first.
		if okA && sa.Type == Insert && (!okB || sb.Type != Insert || priority == PriorityLeft) {
			ins := ra.take(sa.Len())
			aPrime.append(ins)
			bPrime.Retain(ins.Len())

			continue
		}

		if okB && sb.Type == Insert {
			ins := rb.take(sb.Len())
			aPrime.Retain(ins.Len())
			bPrime.append(ins)

			continue
		}

		if !okA || !okB {
			return nil, nil, fmt.Errorf("%w: step lengths do not line up", ErrIncompatibleLengths)
		}

		n := ra.remaining()
		if m := rb.remaining(); m < n {
			n = m
		}

		switch {
		case sa.Type == Retain && sb.Type == Retain:
			ra.take(n)
			rb.take(n)
			aPrime.Retain(n)
			bPrime.Retain(n)
		case sa.Type == Delete && sb.Type == Delete:
			// Both sides deleted the same span; nothing remains to adjust.
			ra.take(n)
			rb.take(n)
		case sa.Type == Delete && sb.Type == Retain:
			aPrime.append(ra.take(n))
			rb.take(n)
		case sa.Type == Retain && sb.Type == Delete:
			ra.take(n)
			bPrime.append(rb.take(n))
		}
	}

	return aPrime, bPrime, nil
}
