package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/ledger"
)

var (
	rent = engine.TargetRef{Type: engine.TargetBucket, ID: "rent"}
	trip = engine.TargetRef{Type: engine.TargetGoal, ID: "trip"}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveBucket(ctx, Bucket{ID: "rent", Name: "Rent", CurrentAmount: engine.MustAmount("100"), Active: true}))
	require.NoError(t, store.SaveGoal(ctx, Goal{ID: "trip", Name: "Trip", CurrentAmount: engine.MustAmount("0"), TargetAmount: engine.MustAmount("5000"), Active: true}))
	return store
}

// paydaySplit allocates 400 fixed to rent and 60% to the trip from 1000.
func paydaySplit(t *testing.T) engine.ValidSplit {
	t.Helper()
	valid, err := engine.ValidateSplit(
		engine.Split{ID: "payday", Name: "Payday", BaseAmount: engine.MustAmount("1000"), Active: true},
		[]engine.AllocationInput{
			{ID: "a1", SplitID: "payday", TargetType: engine.TargetBucket, TargetID: "rent",
				AllocationType: engine.AllocationFixed, Amount: engine.Ptr(engine.MustAmount("400"))},
			{ID: "a2", SplitID: "payday", TargetType: engine.TargetGoal, TargetID: "trip",
				AllocationType: engine.AllocationPercentage, Percentage: engine.Ptr(engine.MustAmount("60"))},
		},
	)
	require.NoError(t, err)
	return valid
}

func balance(t *testing.T, s *Store, ref engine.TargetRef) string {
	t.Helper()
	target, err := s.GetTarget(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, target)
	return target.CurrentAmount.StringFixed(2)
}

// =============================================================================
// TARGETS
// =============================================================================

func TestTargets_BucketsThenGoals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	targets, err := s.Targets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, rent, targets[0].Ref)
	assert.Equal(t, trip, targets[1].Ref)
	require.NotNil(t, targets[1].TargetAmount)
	assert.Equal(t, "5000.00", targets[1].TargetAmount.StringFixed(2))

	missing, err := s.GetTarget(ctx, engine.TargetRef{Type: engine.TargetGoal, ID: "rent"})
	require.NoError(t, err)
	assert.Nil(t, missing, "the same id under the other type is a different target")
}

func TestSaveBucket_KeepsBalanceOnUpdate(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveBucket(context.Background(), Bucket{ID: "rent", Name: "Housing", CurrentAmount: engine.MustAmount("9999"), Active: true}))

	buckets, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "Housing", buckets[0].Name)
	assert.Equal(t, "100.00", buckets[0].CurrentAmount.StringFixed(2))
}

// =============================================================================
// LEDGER
// =============================================================================

func TestRecord_SequencesBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in, err := s.Record(ctx, ledger.Transaction{Target: rent, Type: engine.Inbound, Amount: engine.MustAmount("25.50"), Description: "Refund"})
	require.NoError(t, err)
	out, err := s.Record(ctx, ledger.Transaction{Target: rent, Type: engine.Outbound, Amount: engine.MustAmount("125.50"), Description: "Rent paid"})
	require.NoError(t, err)

	assert.Equal(t, "125.50", in.BalanceAfter.StringFixed(2))
	assert.True(t, out.BalanceAfter.IsZero())
	assert.Equal(t, "0.00", balance(t, s, rent))

	txs, err := s.Transactions(ctx, rent)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, in.ID, txs[0].ID)
	assert.Equal(t, "Rent paid", txs[1].Description)
	assert.NoError(t, ledger.Verify(engine.MustAmount("100"), txs))
}

func TestRecord_RejectsOverdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, ledger.Transaction{Target: rent, Type: engine.Outbound, Amount: engine.MustAmount("100.01"), Description: "Too much"})

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, "100.00", balance(t, s, rent))
	txs, err := s.Transactions(ctx, rent)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecord_UnknownTarget(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Record(context.Background(), ledger.Transaction{
		Target: engine.TargetRef{Type: engine.TargetBucket, ID: "nope"}, Type: engine.Inbound,
		Amount: engine.MustAmount("1"), Description: "x",
	})
	assert.ErrorIs(t, err, engine.ErrTargetNotFound)
}

// =============================================================================
// SPLITS
// =============================================================================

func TestSaveSplit_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	valid := paydaySplit(t)

	require.NoError(t, s.SaveSplit(ctx, valid))

	rec, err := s.GetSplit(ctx, "payday")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Payday", rec.Split.Name)
	assert.True(t, rec.Split.Active)
	assert.Nil(t, rec.Split.Description)
	require.Len(t, rec.Rows, 2)
	assert.Equal(t, engine.AllocationID("a1"), rec.Rows[0].ID)
	assert.Nil(t, rec.Rows[0].Percentage)
	assert.Nil(t, rec.Rows[1].Amount)
	assert.Equal(t, "60", rec.Rows[1].Percentage.String())
	assert.False(t, rec.CreatedAt.IsZero())

	again, err := engine.ValidateSplit(rec.Split, rec.Rows)
	require.NoError(t, err)
	assert.Equal(t, valid.Summary().Total.StringFixed(2), again.Summary().Total.StringFixed(2))
}

func TestSaveSplit_ReplacesAllocationSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSplit(ctx, paydaySplit(t)))

	smaller, err := engine.ValidateSplit(
		engine.Split{ID: "payday", Name: "Payday v2", BaseAmount: engine.MustAmount("1000"), Active: true},
		[]engine.AllocationInput{{ID: "b1", SplitID: "payday", TargetType: engine.TargetGoal, TargetID: "trip",
			AllocationType: engine.AllocationFixed, Amount: engine.Ptr(engine.MustAmount("10"))}},
	)
	require.NoError(t, err)
	require.NoError(t, s.SaveSplit(ctx, smaller))

	rec, err := s.GetSplit(ctx, "payday")
	require.NoError(t, err)
	assert.Equal(t, "Payday v2", rec.Split.Name)
	require.Len(t, rec.Rows, 1)
	assert.Equal(t, engine.AllocationID("b1"), rec.Rows[0].ID)
}

func TestDeactivateSplit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSplit(ctx, paydaySplit(t)))

	require.NoError(t, s.DeactivateSplit(ctx, "payday"))

	splits, err := s.ListSplits(ctx)
	require.NoError(t, err)
	assert.Empty(t, splits)

	rec, err := s.GetSplit(ctx, "payday")
	require.NoError(t, err)
	require.NotNil(t, rec, "soft-deleted splits can still be read")
	assert.False(t, rec.Split.Active)

	assert.ErrorIs(t, s.DeactivateSplit(ctx, "payday"), engine.ErrSplitNotFound)
	assert.ErrorIs(t, s.ExecuteSplit(ctx, "payday"), engine.ErrSplitInactive)

	missing, err := s.GetSplit(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

func TestExecuteSplit_Success(t *testing.T) {
	// GIVEN: A saved split and two targets
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSplit(ctx, paydaySplit(t)))

	// WHEN: Executing it twice
	require.NoError(t, s.ExecuteSplit(ctx, "payday"))
	require.NoError(t, s.ExecuteSplit(ctx, "payday"))

	// THEN: Balances and ledgers reflect both distributions
	assert.Equal(t, "900.00", balance(t, s, rent))
	assert.Equal(t, "1200.00", balance(t, s, trip))

	txs, err := s.Transactions(ctx, trip)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "600.00", txs[0].BalanceAfter.StringFixed(2))
	assert.Equal(t, "1200.00", txs[1].BalanceAfter.StringFixed(2))
	assert.Equal(t, engine.SplitID("payday"), txs[0].SplitID)
	assert.Equal(t, engine.Inbound, txs[0].Type)
	assert.Equal(t, "Split distribution: Payday", txs[0].Description)

	all, err := s.SplitTransactions(ctx, "payday")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	dists, err := s.Distributions(ctx, "payday")
	require.NoError(t, err)
	require.Len(t, dists, 2)
	assert.Equal(t, "1000.00", dists[0].Total.StringFixed(2))
	assert.Equal(t, 2, dists[0].Entries)
}

func TestExecuteSplit_MissingTargetRollsBack(t *testing.T) {
	// GIVEN: A split whose second target does not exist
	s := newTestStore(t)
	ctx := context.Background()
	valid, err := engine.ValidateSplit(
		engine.Split{ID: "s", Name: "S", BaseAmount: engine.MustAmount("100"), Active: true},
		[]engine.AllocationInput{
			{ID: "a1", SplitID: "s", TargetType: engine.TargetBucket, TargetID: "rent",
				AllocationType: engine.AllocationFixed, Amount: engine.Ptr(engine.MustAmount("10"))},
			{ID: "a2", SplitID: "s", TargetType: engine.TargetBucket, TargetID: "ghost",
				AllocationType: engine.AllocationFixed, Amount: engine.Ptr(engine.MustAmount("10"))},
		},
	)
	require.NoError(t, err)
	require.NoError(t, s.SaveSplit(ctx, valid))

	// WHEN: Executing
	err = s.ExecuteSplit(ctx, "s")

	// THEN: Nothing was applied
	assert.ErrorIs(t, err, engine.ErrTargetNotFound)
	assert.Equal(t, "100.00", balance(t, s, rent))
	all, err := s.SplitTransactions(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, all)
	dists, err := s.Distributions(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, dists)
}

func TestExecuteSplit_RevalidatesStoredSplit(t *testing.T) {
	// GIVEN: A saved split whose base was lowered behind the validator's back
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSplit(ctx, paydaySplit(t)))
	_, err := s.db.ExecContext(ctx, "UPDATE splits SET base_amount = '300.00' WHERE id = 'payday'")
	require.NoError(t, err)

	// WHEN: Executing
	err = s.ExecuteSplit(ctx, "payday")

	// THEN: The executor refuses it
	assert.ErrorIs(t, err, engine.ErrAllocationExceedsBase)
	assert.Equal(t, "100.00", balance(t, s, rent))
}

func TestExecuteSplit_NotFound(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.ExecuteSplit(context.Background(), "nope"), engine.ErrSplitNotFound)
}

func TestExecuteSplit_ConcurrentSequencing(t *testing.T) {
	// GIVEN: A split and manual transactions racing on the same target
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSplit(ctx, paydaySplit(t)))

	// WHEN: Running both concurrently
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.ExecuteSplit(ctx, "payday"))
		}()
		go func() {
			defer wg.Done()
			_, err := s.Record(ctx, ledger.Transaction{Target: rent, Type: engine.Inbound, Amount: engine.MustAmount("1"), Description: "Tip"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: The ledger is a single consistent sequence
	txs, err := s.Transactions(ctx, rent)
	require.NoError(t, err)
	require.Len(t, txs, 10)
	assert.NoError(t, ledger.Verify(engine.MustAmount("100"), txs))
	assert.Equal(t, "2105.00", balance(t, s, rent))
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSplit(ctx, paydaySplit(t)))
	require.NoError(t, s.ExecuteSplit(ctx, "payday"))

	require.NoError(t, s.Reset(ctx))

	targets, err := s.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets)
	splits, err := s.ListSplits(ctx)
	require.NoError(t, err)
	assert.Empty(t, splits)
	assert.NoError(t, s.Ping(ctx))
}
