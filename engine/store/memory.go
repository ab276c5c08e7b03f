// Package store provides in-memory implementations of the engine's
// collaborators.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory executor and target reader (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	targets      map[engine.TargetRef]engine.Target
	order        []engine.TargetRef
	splits       map[engine.SplitID]storedSplit
	transactions map[engine.TargetRef][]ledger.Transaction
	executions   []engine.SplitID
}

type storedSplit struct {
	split engine.Split
	rows  []engine.AllocationInput
}

func NewMemory() *Memory {
	return &Memory{
		targets:      make(map[engine.TargetRef]engine.Target),
		splits:       make(map[engine.SplitID]storedSplit),
		transactions: make(map[engine.TargetRef][]ledger.Transaction),
	}
}

// AddTarget registers a bucket or goal with its opening balance.
func (m *Memory) AddTarget(t engine.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[t.Ref]; !ok {
		m.order = append(m.order, t.Ref)
	}
	m.targets[t.Ref] = t
}

// Targets implements engine.TargetReader.
func (m *Memory) Targets(_ context.Context) ([]engine.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.Target, 0, len(m.order))
	for _, ref := range m.order {
		out = append(out, m.targets[ref])
	}
	return out, nil
}

// SaveSplit stores a validated split, replacing any earlier version and its
// allocation set.
func (m *Memory) SaveSplit(_ context.Context, v engine.ValidSplit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allocations := v.Allocations()
	rows := make([]engine.AllocationInput, len(allocations))
	for i, a := range allocations {
		rows[i] = a.Input()
	}
	m.splits[v.Split().ID] = storedSplit{split: v.Split(), rows: rows}
	return nil
}

// Deactivate marks a split inactive. Inactive splits cannot be executed.
func (m *Memory) Deactivate(_ context.Context, id engine.SplitID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.splits[id]
	if !ok {
		return engine.ErrSplitNotFound
	}
	s.split.Active = false
	m.splits[id] = s
	return nil
}

// ExecuteSplit implements engine.DistributionExecutor. The stored split is
// validated again and its plan posted through a ledger.Sequencer; nothing is
// kept unless every transaction posts.
func (m *Memory) ExecuteSplit(_ context.Context, id engine.SplitID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.splits[id]
	if !ok {
		return engine.ErrSplitNotFound
	}
	if !stored.split.Active {
		return engine.ErrSplitInactive
	}
	valid, err := engine.ValidateSplit(stored.split, stored.rows)
	if err != nil {
		return err
	}

	plan := engine.PrepareDistribution(valid)
	balances := make(map[engine.TargetRef]decimal.Decimal, len(plan.Entries))
	for _, e := range plan.Entries {
		t, ok := m.targets[e.Target]
		if !ok {
			return fmt.Errorf("%s: %w", e.Target, engine.ErrTargetNotFound)
		}
		balances[e.Target] = t.CurrentAmount
	}

	seq := ledger.NewSequencer(balances)
	posted, err := seq.PostAll(ledger.FromPlan(plan, stored.split.Name))
	if err != nil {
		return err
	}

	// Commit
	for _, tx := range posted {
		m.transactions[tx.Target] = append(m.transactions[tx.Target], tx)
	}
	for ref, balance := range seq.Balances() {
		t := m.targets[ref]
		t.CurrentAmount = balance
		m.targets[ref] = t
	}
	m.executions = append(m.executions, id)
	return nil
}

// Record posts a manual transaction against a target.
func (m *Memory) Record(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.targets[tx.Target]
	if !ok {
		return ledger.Transaction{}, engine.ErrTargetNotFound
	}
	seq := ledger.NewSequencer(map[engine.TargetRef]decimal.Decimal{t.Ref: t.CurrentAmount})
	posted, err := seq.Post(tx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.CurrentAmount = posted.BalanceAfter
	m.targets[t.Ref] = t
	m.transactions[t.Ref] = append(m.transactions[t.Ref], posted)
	return posted, nil
}

// Transactions returns the ledger of one target, oldest first.
func (m *Memory) Transactions(_ context.Context, ref engine.TargetRef) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.transactions[ref]))
	copy(result, m.transactions[ref])
	return result, nil
}

// Executions lists the split ids successfully executed, in order.
func (m *Memory) Executions() []engine.SplitID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.SplitID(nil), m.executions...)
}
