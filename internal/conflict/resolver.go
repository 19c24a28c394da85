// Package conflict decides what to do with pairs of concurrent operations
// that a plain transform cannot reconcile. Strategies are plain records
// evaluated in priority order; the first one that applies wins, and a pair
// no strategy can handle is handed back for manual resolution.
package conflict

import (
	"log/slog"
	"sort"

	"github.com/serroba/collab-core/internal/ot"
)

// StrategyName identifies how a conflict pair was resolved.
type StrategyName string

const (
	StrategyTimestamp    StrategyName = "timestamp"
	StrategyUserPriority StrategyName = "user-priority"
	StrategyContentMerge StrategyName = "content-merge"
	StrategyPosition     StrategyName = "position"
	StrategyManual       StrategyName = "manual"
)

// DefaultPositionThreshold is the distance, in characters, beyond which
// two edits are treated as non-overlapping. This is a policy knob, not a
// correctness boundary.
const DefaultPositionThreshold = 10

// Pair is a conflicting pair of operations sharing a base document state.
type Pair struct {
	Left  *ot.TextOperation
	Right *ot.TextOperation

	// BaseContent is the document text both operations were created
	// against, when the caller still has it. Strategies that need it
	// decline when it is unavailable.
	BaseContent string

	// UserPriorities maps user id to a numeric priority. Optional; the
	// user-priority strategy declines when absent.
	UserPriorities map[string]int
}

// Resolution is the outcome of running the strategy chain over a pair.
// Exactly one of Merged or Winner is set when Resolved is true. When
// Resolved is false the Strategy is StrategyManual and both operations are
// attached so the caller can surface them to a human.
type Resolution struct {
	Resolved  bool
	Strategy  StrategyName
	Merged    *ot.TextOperation
	Winner    *ot.TextOperation
	Discarded *ot.TextOperation
	Left      *ot.TextOperation
	Right     *ot.TextOperation
}

// strategy is a tagged record: a predicate deciding whether the strategy
// applies, and a resolver that may still decline by returning false.
type strategy struct {
	name     StrategyName
	priority int
	applies  func(Pair) bool
	resolve  func(*Resolver, Pair) (Resolution, bool)
}

// ResolverConfig holds configuration for creating a resolver.
type ResolverConfig struct {
	PositionThreshold int
	Logger            *slog.Logger
}

// Resolver runs the fixed strategy chain.
type Resolver struct {
	strategies        []strategy
	positionThreshold int
	logger            *slog.Logger
}

// NewResolver creates a resolver with the standard strategy chain.
func NewResolver(cfg ResolverConfig) *Resolver {
	threshold := cfg.PositionThreshold
	if threshold <= 0 {
		threshold = DefaultPositionThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		positionThreshold: threshold,
		logger:            logger,
		strategies: []strategy{
			{
				name:     StrategyTimestamp,
				priority: 1,
				applies:  timestampApplies,
				resolve:  resolveByTimestamp,
			},
			{
				name:     StrategyUserPriority,
				priority: 2,
				applies:  userPriorityApplies,
				resolve:  resolveByUserPriority,
			},
			{
				name:     StrategyContentMerge,
				priority: 3,
				applies:  contentMergeApplies,
				resolve:  resolveByContentMerge,
			},
			{
				name:     StrategyPosition,
				priority: 4,
				applies:  positionApplies,
				resolve:  resolveByPosition,
			},
		},
	}

	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].priority < r.strategies[j].priority
	})

	return r
}

// Resolve runs the strategy chain over the pair. If no strategy resolves
// it, the result is tagged manual with both operations attached.
func (r *Resolver) Resolve(p Pair) Resolution {
	for _, s := range r.strategies {
		if !s.applies(p) {
			continue
		}

		res, ok := s.resolve(r, p)
		if !ok {
			continue
		}

		r.logger.Debug("conflict resolved",
			slog.String("strategy", string(s.name)))

		return res
	}

	return Resolution{
		Resolved: false,
		Strategy: StrategyManual,
		Left:     p.Left,
		Right:    p.Right,
	}
}

func timestampApplies(p Pair) bool {
	_, okL := p.Left.LatestTimestamp()
	_, okR := p.Right.LatestTimestamp()

	return okL && okR
}

// resolveByTimestamp picks the later edit outright; the loser is discarded,
// not merged.
func resolveByTimestamp(_ *Resolver, p Pair) (Resolution, bool) {
	tsL, _ := p.Left.LatestTimestamp()
	tsR, _ := p.Right.LatestTimestamp()

	switch {
	case tsL.After(tsR):
		return Resolution{
			Resolved:  true,
			Strategy:  StrategyTimestamp,
			Winner:    p.Left,
			Discarded: p.Right,
		}, true
	case tsR.After(tsL):
		return Resolution{
			Resolved:  true,
			Strategy:  StrategyTimestamp,
			Winner:    p.Right,
			Discarded: p.Left,
		}, true
	default:
		// Equal timestamps carry no ordering information.
		return Resolution{}, false
	}
}

func userPriorityApplies(p Pair) bool {
	if p.UserPriorities == nil {
		return false
	}

	_, okL := p.UserPriorities[p.Left.PrimaryAuthor()]
	_, okR := p.UserPriorities[p.Right.PrimaryAuthor()]

	return okL && okR
}

// resolveByUserPriority lets the higher-priority user's operation win.
func resolveByUserPriority(_ *Resolver, p Pair) (Resolution, bool) {
	prioL := p.UserPriorities[p.Left.PrimaryAuthor()]
	prioR := p.UserPriorities[p.Right.PrimaryAuthor()]

	switch {
	case prioL > prioR:
		return Resolution{
			Resolved:  true,
			Strategy:  StrategyUserPriority,
			Winner:    p.Left,
			Discarded: p.Right,
		}, true
	case prioR > prioL:
		return Resolution{
			Resolved:  true,
			Strategy:  StrategyUserPriority,
			Winner:    p.Right,
			Discarded: p.Left,
		}, true
	default:
		return Resolution{}, false
	}
}

func contentMergeApplies(p Pair) bool {
	return !p.Left.HasDeletes() && !p.Right.HasDeletes()
}

// resolveByContentMerge transforms and composes two insert/retain-only
// operations into a single merged operation.
func resolveByContentMerge(_ *Resolver, p Pair) (Resolution, bool) {
	merged, ok := mergeByTransform(p.Left, p.Right)
	if !ok {
		return Resolution{}, false
	}

	return Resolution{
		Resolved: true,
		Strategy: StrategyContentMerge,
		Merged:   merged,
	}, true
}

func positionApplies(p Pair) bool {
	return p.Left.FirstEditOffset() >= 0 && p.Right.FirstEditOffset() >= 0
}

// resolveByPosition merges edits whose estimated offsets are far enough
// apart to be considered non-overlapping; otherwise it declines.
func resolveByPosition(r *Resolver, p Pair) (Resolution, bool) {
	distance := p.Left.FirstEditOffset() - p.Right.FirstEditOffset()
	if distance < 0 {
		distance = -distance
	}

	if distance <= r.positionThreshold {
		return Resolution{}, false
	}

	merged, ok := mergeByTransform(p.Left, p.Right)
	if !ok {
		return Resolution{}, false
	}

	return Resolution{
		Resolved: true,
		Strategy: StrategyPosition,
		Merged:   merged,
	}, true
}

// mergeByTransform rebases right over left and composes the two into a
// single operation equivalent to applying both.
func mergeByTransform(left, right *ot.TextOperation) (*ot.TextOperation, bool) {
	_, rightPrime, err := ot.Transform(left, right, ot.PriorityLeft)
	if err != nil {
		return nil, false
	}

	merged, err := ot.Compose(left, rightPrime)
	if err != nil {
		return nil, false
	}

	return merged, true
}

// DetectConflict applies both orderings of the pair against the base
// content and reports whether they diverge. Any failure to transform or
// apply is itself treated as a conflict signal.
func DetectConflict(left, right *ot.TextOperation, baseContent string) bool {
	leftPrime, rightPrime, err := ot.Transform(left, right, ot.PriorityLeft)
	if err != nil {
		return true
	}

	afterLeft, err := ot.Apply(baseContent, left)
	if err != nil {
		return true
	}

	leftFirst, err := ot.Apply(afterLeft, rightPrime)
	if err != nil {
		return true
	}

	afterRight, err := ot.Apply(baseContent, right)
	if err != nil {
		return true
	}

	rightFirst, err := ot.Apply(afterRight, leftPrime)
	if err != nil {
		return true
	}

	return leftFirst != rightFirst
}
