package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingExecutor records every call and fails while err is set.
type recordingExecutor struct {
	mu    sync.Mutex
	calls []engine.SplitID
	ctxs  []context.Context
	err   error
}

func (e *recordingExecutor) ExecuteSplit(ctx context.Context, id engine.SplitID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, id)
	e.ctxs = append(e.ctxs, ctx)
	return e.err
}

func newDraft(base string, rows ...engine.AllocationInput) *engine.Draft {
	d := engine.NewDraft(split(base))
	for _, r := range rows {
		d.AddRow(r)
	}
	return d
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to engine.State
		ok       bool
	}{
		{engine.StateDraft, engine.StateValidating, true},
		{engine.StateDraft, engine.StateDistributing, false},
		{engine.StateValidating, engine.StateValid, true},
		{engine.StateValidating, engine.StateInvalid, true},
		{engine.StateInvalid, engine.StateDistributing, false},
		{engine.StateValid, engine.StateDistributing, true},
		{engine.StateDistributing, engine.StateDistributed, true},
		{engine.StateDistributing, engine.StateFailed, true},
		{engine.StateFailed, engine.StateDistributing, true},
		{engine.StateFailed, engine.StateDraft, true},
		{engine.StateDistributed, engine.StateDraft, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, engine.StateDistributed.Terminal())
	assert.False(t, engine.StateFailed.Terminal())
	assert.False(t, engine.StateInvalid.Terminal())
}

// =============================================================================
// DRAFT
// =============================================================================

func TestDraft_AddRowStampsSplitID(t *testing.T) {
	d := engine.NewDraft(split("100"))

	i := d.AddRow(engine.AllocationInput{SplitID: "other", TargetID: "x"})

	row, ok := d.Row(i)
	require.True(t, ok)
	assert.Equal(t, testSplit, row.SplitID)
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, engine.AllocationFixed, row.AllocationType)
	assert.Equal(t, engine.StateDraft, d.State())
}

func TestDraft_RemoveRowKeepsIndices(t *testing.T) {
	// GIVEN: Three rows
	d := newDraft("100",
		fixedRow("a1", "x", engine.TargetBucket, "10"),
		fixedRow("a2", "y", engine.TargetBucket, "20"),
		fixedRow("a3", "z", engine.TargetBucket, "30"),
	)

	// WHEN: Removing the middle row
	require.NoError(t, d.RemoveRow(1))

	// THEN: The other rows keep their indices
	assert.Equal(t, 2, d.Len())
	_, ok := d.Row(1)
	assert.False(t, ok)
	row, ok := d.Row(2)
	require.True(t, ok)
	assert.Equal(t, engine.AllocationID("a3"), row.ID)

	sum := d.Summary()
	require.Len(t, sum.Lines, 2)
	assert.Equal(t, 0, sum.Lines[0].Row)
	assert.Equal(t, 2, sum.Lines[1].Row)
	assert.Equal(t, "40.00", sum.Total.StringFixed(2))

	// AND: New rows are appended after the tombstone
	assert.Equal(t, 3, d.AddRow(engine.AllocationInput{}))
}

func TestDraft_RemoveLastRow(t *testing.T) {
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"), fixedRow("a2", "y", engine.TargetBucket, "10"))

	require.NoError(t, d.RemoveRow(0))
	assert.ErrorIs(t, d.RemoveRow(1), engine.ErrLastRow)
	assert.Equal(t, 1, d.Len())

	assert.Panics(t, func() { _ = d.RemoveRow(0) }, "removed rows cannot be removed again")
	assert.Panics(t, func() { _ = d.RemoveRow(7) })
}

func TestDraft_SetAllocationTypeResetsValues(t *testing.T) {
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"))

	d.SetAllocationType(0, engine.AllocationPercentage)
	row, _ := d.Row(0)
	assert.Nil(t, row.Amount)
	require.NotNil(t, row.Percentage)
	assert.True(t, row.Percentage.IsZero())

	d.SetAllocationType(0, engine.AllocationFixed)
	row, _ = d.Row(0)
	assert.Nil(t, row.Percentage)
	require.NotNil(t, row.Amount)
	assert.True(t, row.Amount.IsZero())
}

func TestDraft_SetTargetInfersType(t *testing.T) {
	catalog := engine.NewTargetCatalog([]engine.Target{
		{Ref: engine.TargetRef{Type: engine.TargetBucket, ID: "rent"}, Name: "Rent"},
		{Ref: engine.TargetRef{Type: engine.TargetGoal, ID: "trip"}, Name: "Trip"},
	})
	d := newDraft("100", fixedRow("a1", "", engine.TargetBucket, "10"))

	d.SetTarget(0, "trip", catalog)
	row, _ := d.Row(0)
	assert.Equal(t, engine.TargetRef{Type: engine.TargetGoal, ID: "trip"}, row.Target())

	d.SetTarget(0, "rent", catalog)
	row, _ = d.Row(0)
	assert.Equal(t, engine.TargetBucket, row.TargetType)
}

func TestDraft_SetTargetWithoutCatalogDefaultsToBucket(t *testing.T) {
	// GIVEN: A goal row and no catalog loaded yet
	d := newDraft("100", fixedRow("a1", "trip", engine.TargetGoal, "10"))

	// WHEN: Pointing the row at a target
	require.NotPanics(t, func() { d.SetTarget(0, "trip", nil) })

	// THEN: The type falls back to bucket
	row, _ := d.Row(0)
	assert.Equal(t, engine.TargetRef{Type: engine.TargetBucket, ID: "trip"}, row.Target())

	var catalog *engine.TargetCatalog
	_, ok := catalog.Lookup(row.Target())
	assert.False(t, ok)
}

func TestDraft_ValidateRemapsRowsToArena(t *testing.T) {
	// GIVEN: A tombstoned row before an invalid one
	d := newDraft("100",
		fixedRow("a1", "x", engine.TargetBucket, "10"),
		fixedRow("a2", "y", engine.TargetBucket, "10"),
		pctRow("a3", "z", engine.TargetGoal, "150"),
	)
	require.NoError(t, d.RemoveRow(0))

	// WHEN: Validating
	_, err := d.Validate()

	// THEN: The row error points at arena index 2
	require.Error(t, err)
	assert.Equal(t, engine.StateInvalid, d.State())
	errs := d.LastErrors().ForRow(2)
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], engine.ErrInvalidPercentage)
	_, ok := d.Valid()
	assert.False(t, ok)
}

func TestDraft_EditAfterValidReturnsToDraft(t *testing.T) {
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"))

	_, err := d.Validate()
	require.NoError(t, err)
	_, ok := d.Valid()
	require.True(t, ok)

	d.SetBaseAmount(amt("5"))

	assert.Equal(t, engine.StateDraft, d.State())
	_, ok = d.Valid()
	assert.False(t, ok)

	_, err = d.Validate()
	assert.ErrorIs(t, err, engine.ErrAllocationExceedsBase)
}

func TestDraft_UpdateSplitKeepsID(t *testing.T) {
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"))

	d.UpdateSplit(func(s *engine.Split) {
		s.ID = "hijack"
		s.Name = "Renamed"
	})
	d.UpdateRow(0, func(r *engine.AllocationInput) { r.SplitID = "hijack" })

	assert.Equal(t, testSplit, d.Split().ID)
	assert.Equal(t, "Renamed", d.Split().Name)
	row, _ := d.Row(0)
	assert.Equal(t, testSplit, row.SplitID)
}

func TestDraftFromValid(t *testing.T) {
	valid, err := engine.ValidateSplit(split("100"), []engine.AllocationInput{
		fixedRow("a1", "x", engine.TargetBucket, "10"),
		pctRow("a2", "y", engine.TargetGoal, "50"),
	})
	require.NoError(t, err)

	d := engine.DraftFromValid(valid)

	assert.Equal(t, engine.StateDraft, d.State())
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "60.00", d.Summary().Total.StringFixed(2))
}

func TestNewDraftFromRows(t *testing.T) {
	// GIVEN: Stored rows, one carrying a stale split id
	stale := pctRow("a2", "y", engine.TargetGoal, "50")
	stale.SplitID = "other"

	// WHEN: Opening a draft over them
	d := engine.NewDraftFromRows(split("100"), []engine.AllocationInput{
		fixedRow("a1", "x", engine.TargetBucket, "10"),
		stale,
	})

	// THEN: Every row belongs to the split and keeps its id
	require.Equal(t, 2, d.Len())
	for _, row := range d.Rows() {
		assert.Equal(t, engine.SplitID(testSplit), row.SplitID)
	}
	row, _ := d.Row(1)
	assert.Equal(t, engine.AllocationID("a2"), row.ID)
	_, err := d.Validate()
	assert.NoError(t, err)
}

func TestOrchestrator_StoredRowsValidatedOnce(t *testing.T) {
	// GIVEN: Stored rows that no longer fit the base
	exec := &recordingExecutor{}
	o := engine.NewOrchestrator(exec)
	d := engine.NewDraftFromRows(split("100"), []engine.AllocationInput{
		fixedRow("a1", "x", engine.TargetBucket, "80"),
		pctRow("a2", "y", engine.TargetGoal, "50"),
	})

	// WHEN: Distributing them straight from storage
	_, err := o.Distribute(context.Background(), d)

	// THEN: The orchestrator reports the validation errors and stops
	var verrs engine.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []error{engine.ErrAllocationExceedsBase}, verrs.Codes())
	assert.NotErrorIs(t, err, engine.ErrExecutionFailed)
	assert.Empty(t, exec.calls)
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

func TestPrepareDistribution(t *testing.T) {
	valid, err := engine.ValidateSplit(split("1000"), []engine.AllocationInput{
		fixedRow("a1", "x", engine.TargetBucket, "400"),
		pctRow("a2", "y", engine.TargetGoal, "60"),
	})
	require.NoError(t, err)

	plan := engine.PrepareDistribution(valid)

	assert.Equal(t, testSplit, plan.SplitID)
	require.Len(t, plan.Entries, 2)
	for _, e := range plan.Entries {
		assert.Equal(t, engine.Inbound, e.Type)
	}
	assert.Equal(t, "600.00", plan.Entries[1].Amount.StringFixed(2))
	assert.Equal(t, "1000.00", plan.Total.StringFixed(2))
}

func TestOrchestrator_DistributeSuccess(t *testing.T) {
	// GIVEN: An unvalidated draft and a working executor
	exec := &recordingExecutor{}
	o := engine.NewOrchestrator(exec)
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"))

	// WHEN: Distributing
	plan, err := o.Distribute(context.Background(), d)

	// THEN: The draft is validated, executed once and terminal
	require.NoError(t, err)
	assert.Equal(t, []engine.SplitID{testSplit}, exec.calls)
	assert.Equal(t, engine.StateDistributed, d.State())
	assert.Equal(t, "10.00", plan.Total.StringFixed(2))

	assert.Panics(t, func() { d.AddRow(engine.AllocationInput{}) }, "distributed drafts cannot be edited")

	_, err = o.Distribute(context.Background(), d)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	assert.Len(t, exec.calls, 1)
}

func TestOrchestrator_InvalidDraftNeverExecutes(t *testing.T) {
	exec := &recordingExecutor{}
	o := engine.NewOrchestrator(exec)
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "500"))

	_, err := o.Distribute(context.Background(), d)

	assert.ErrorIs(t, err, engine.ErrAllocationExceedsBase)
	assert.Equal(t, engine.StateInvalid, d.State())
	assert.Empty(t, exec.calls)
}

func TestOrchestrator_FailureThenRetry(t *testing.T) {
	// GIVEN: An executor failing once
	cause := errors.New("database is locked")
	exec := &recordingExecutor{err: cause}
	o := engine.NewOrchestrator(exec)
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"))

	// WHEN: Distributing
	_, err := o.Distribute(context.Background(), d)

	// THEN: The failure carries both the category and the cause
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrExecutionFailed)
	assert.ErrorIs(t, err, cause)
	var execErr *engine.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, testSplit, execErr.SplitID)
	assert.Equal(t, engine.StateFailed, d.State())
	assert.True(t, engine.IsRetryable(err))

	// WHEN: Retrying after the executor recovers
	exec.err = nil
	_, err = o.Distribute(context.Background(), d)

	// THEN: The retry succeeds from Failed
	require.NoError(t, err)
	assert.Equal(t, engine.StateDistributed, d.State())
	assert.Len(t, exec.calls, 2)
}

func TestOrchestrator_ExecuteIgnoresCancellation(t *testing.T) {
	exec := &recordingExecutor{}
	o := engine.NewOrchestrator(exec)
	d := newDraft("100", fixedRow("a1", "x", engine.TargetBucket, "10"))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := d.Validate()
	require.NoError(t, err)
	cancel()

	_, err = o.Distribute(ctx, d)

	require.NoError(t, err)
	require.Len(t, exec.ctxs, 1)
	assert.NoError(t, exec.ctxs[0].Err())
}

func TestOrchestrator_WithMemoryStore(t *testing.T) {
	// GIVEN: A memory store holding two targets and a saved split
	ctx := context.Background()
	mem := store.NewMemory()
	x := engine.TargetRef{Type: engine.TargetBucket, ID: "x"}
	y := engine.TargetRef{Type: engine.TargetGoal, ID: "y"}
	mem.AddTarget(engine.Target{Ref: x, Name: "X", CurrentAmount: amt("5")})
	mem.AddTarget(engine.Target{Ref: y, Name: "Y", CurrentAmount: decimal.Zero})

	valid, err := engine.ValidateSplit(split("1000"), []engine.AllocationInput{
		fixedRow("a1", "x", engine.TargetBucket, "400"),
		pctRow("a2", "y", engine.TargetGoal, "60"),
	})
	require.NoError(t, err)
	require.NoError(t, mem.SaveSplit(ctx, valid))

	// WHEN: Distributing through the orchestrator
	_, err = engine.NewOrchestrator(mem).Distribute(ctx, engine.DraftFromValid(valid))
	require.NoError(t, err)

	// THEN: Balances moved and each target got one sequenced transaction
	targets, err := mem.Targets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "405.00", targets[0].CurrentAmount.StringFixed(2))
	assert.Equal(t, "600.00", targets[1].CurrentAmount.StringFixed(2))

	txs, err := mem.Transactions(ctx, x)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "405.00", txs[0].BalanceAfter.StringFixed(2))
	assert.Equal(t, testSplit, txs[0].SplitID)
	assert.Equal(t, []engine.SplitID{testSplit}, mem.Executions())
}
