/*
distribute.go - Distribution planning and orchestration

PURPOSE:
  Turns a ValidSplit into the ledger deltas it implies and hands the split to
  the DistributionExecutor. The orchestrator performs no mutation itself: it
  shapes the request, drives the draft's state machine and reports the
  executor's answer uniformly as success or *ExecutionError.

FLOW:
  1. PrepareDistribution: one inbound entry per allocation
  2. Execute: ExecuteSplit(split id), not cancellable once issued
  3. Draft moves to Distributed or Failed

SEE ALSO:
  - collaborators.go: DistributionExecutor contract
  - store/sqlite/sqlite.go: The executor used in production
*/
package engine

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a ledger transaction.
type TransactionType string

const (
	Inbound  TransactionType = "inbound"
	Outbound TransactionType = "outbound"
)

func (t TransactionType) Valid() bool { return t == Inbound || t == Outbound }

// PlannedEntry is the ledger transaction a distribution intends to write.
// BalanceAfter is not known here; the executor assigns it.
type PlannedEntry struct {
	AllocationID AllocationID
	Target       TargetRef
	Amount       decimal.Decimal
	Type         TransactionType
}

type DistributionPlan struct {
	SplitID SplitID
	Entries []PlannedEntry
	Total   decimal.Decimal
}

// PrepareDistribution builds the plan for a validated split.
func PrepareDistribution(v ValidSplit) DistributionPlan {
	base := v.split.BaseAmount
	plan := DistributionPlan{
		SplitID: v.split.ID,
		Entries: make([]PlannedEntry, 0, len(v.allocations)),
		Total:   decimal.Zero,
	}
	for _, a := range v.allocations {
		amount := EffectiveAmount(a, base)
		plan.Entries = append(plan.Entries, PlannedEntry{
			AllocationID: a.ID,
			Target:       a.Target,
			Amount:       amount,
			Type:         Inbound,
		})
		plan.Total = plan.Total.Add(amount)
	}
	return plan
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	executor DistributionExecutor
	log      zerolog.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func NewOrchestrator(executor DistributionExecutor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{executor: executor, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute asks the executor to apply plan. Only the split id crosses the
// boundary. The call ignores cancellation of ctx once issued, so a caller
// giving up cannot observe a half-applied distribution.
func (o *Orchestrator) Execute(ctx context.Context, plan DistributionPlan) error {
	logger := o.log.With().Str("split_id", string(plan.SplitID)).Logger()
	logger.Info().
		Int("entries", len(plan.Entries)).
		Str("total", plan.Total.StringFixed(2)).
		Msg("distributing split")

	if err := o.executor.ExecuteSplit(context.WithoutCancel(ctx), plan.SplitID); err != nil {
		logger.Warn().Err(err).Msg("distribution failed")
		return &ExecutionError{SplitID: plan.SplitID, Err: err}
	}

	logger.Info().Msg("split distributed")
	return nil
}

// Distribute validates d if needed, then executes its plan. The draft ends
// in StateDistributed on success, StateInvalid when validation fails and
// StateFailed when the executor fails.
func (o *Orchestrator) Distribute(ctx context.Context, d *Draft) (DistributionPlan, error) {
	if d.State() != StateValid {
		if _, err := d.Validate(); err != nil {
			return DistributionPlan{}, err
		}
	}
	valid, _ := d.Valid()
	if err := d.transition(StateDistributing); err != nil {
		return DistributionPlan{}, err
	}

	plan := PrepareDistribution(valid)
	if err := o.Execute(ctx, plan); err != nil {
		d.state = StateFailed
		return plan, err
	}
	d.state = StateDistributed
	return plan, nil
}
