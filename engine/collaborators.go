/*
collaborators.go - Interfaces the engine consumes

PURPOSE:
  The engine never touches storage. Balance mutation is delegated to a
  DistributionExecutor and bucket/goal data comes from a TargetReader.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for tests and development

EXECUTOR CONTRACT:
  On success, ExecuteSplit has atomically
    (a) written one inbound ledger transaction per allocation, each with a
        correctly sequenced balance_after, and
    (b) moved every target's current_amount to match.
  On failure it has applied nothing.
*/
package engine

import "context"

// DistributionExecutor applies a split's distribution atomically. It receives
// only the split id and re-derives the plan from its own copy of the split.
type DistributionExecutor interface {
	ExecuteSplit(ctx context.Context, id SplitID) error
}

// TargetReader supplies the buckets and goals a split can allocate to.
type TargetReader interface {
	Targets(ctx context.Context) ([]Target, error)
}

// TargetCatalog is an immutable lookup over a list of targets.
type TargetCatalog struct {
	byRef   map[TargetRef]Target
	goalIDs map[TargetID]bool
}

// NewTargetCatalog indexes targets by reference.
func NewTargetCatalog(targets []Target) *TargetCatalog {
	c := &TargetCatalog{
		byRef:   make(map[TargetRef]Target, len(targets)),
		goalIDs: make(map[TargetID]bool),
	}
	for _, t := range targets {
		c.byRef[t.Ref] = t
		if t.Ref.Type == TargetGoal {
			c.goalIDs[t.Ref.ID] = true
		}
	}
	return c
}

// LoadTargetCatalog reads the current targets from r.
func LoadTargetCatalog(ctx context.Context, r TargetReader) (*TargetCatalog, error) {
	targets, err := r.Targets(ctx)
	if err != nil {
		return nil, err
	}
	return NewTargetCatalog(targets), nil
}

// Lookup finds a target by reference. A nil catalog knows no targets.
func (c *TargetCatalog) Lookup(ref TargetRef) (Target, bool) {
	if c == nil {
		return Target{}, false
	}
	t, ok := c.byRef[ref]
	return t, ok
}

// TypeOf infers the target type of an id: goal if a goal has that id,
// bucket otherwise. A nil catalog always answers bucket.
func (c *TargetCatalog) TypeOf(id TargetID) TargetType {
	if c != nil && c.goalIDs[id] {
		return TargetGoal
	}
	return TargetBucket
}
