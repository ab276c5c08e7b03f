package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/ledger"
)

// SplitRecord is a stored split with its allocation rows in position order.
type SplitRecord struct {
	Split     engine.Split
	Rows      []engine.AllocationInput
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Distribution records one successful ExecuteSplit.
type Distribution struct {
	ID        string
	SplitID   engine.SplitID
	Total     decimal.Decimal
	Entries   int
	CreatedAt time.Time
}

// =============================================================================
// SPLITS
// =============================================================================

// SaveSplit inserts or updates a validated split. The allocation set is
// replaced as a whole in the same transaction.
func (s *Store) SaveSplit(ctx context.Context, v engine.ValidSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	split := v.Split()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO splits (id, name, description, base_amount, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			base_amount = excluded.base_amount,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, split.ID, split.Name, nullString(split.Description), split.BaseAmount.StringFixed(2), split.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save split: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM split_allocations WHERE split_id = ?", split.ID); err != nil {
		return fmt.Errorf("failed to clear allocations: %w", err)
	}

	for i, a := range v.Allocations() {
		in := a.Input()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO split_allocations
			(id, split_id, position, target_type, target_id, allocation_type, amount, percentage, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, in.ID, split.ID, i, in.TargetType, in.TargetID, in.AllocationType,
			nullDecimal(in.Amount), nullDecimal(in.Percentage), now)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("allocation %s: %w", in.ID, engine.ErrDuplicateTarget)
			}
			return fmt.Errorf("failed to save allocation: %w", err)
		}
	}

	return tx.Commit()
}

// GetSplit returns a split and its allocation rows, or nil if there is none.
// Inactive splits are returned too.
func (s *Store) GetSplit(ctx context.Context, id engine.SplitID) (*SplitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSplit(ctx, s.db, id)
}

func getSplit(ctx context.Context, q queryer, id engine.SplitID) (*SplitRecord, error) {
	var rec SplitRecord
	var desc sql.NullString
	var createdAt, updatedAt string
	err := q.QueryRowContext(ctx, `
		SELECT id, name, description, base_amount, is_active, created_at, updated_at
		FROM splits WHERE id = ?
	`, id).Scan(&rec.Split.ID, &rec.Split.Name, &desc, &rec.Split.BaseAmount,
		&rec.Split.Active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query split: %w", err)
	}
	rec.Split.Description = stringPtr(desc)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT id, split_id, target_type, target_id, allocation_type, amount, percentage
		FROM split_allocations WHERE split_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in engine.AllocationInput
		var targetType, allocType string
		var amount, pct decimal.NullDecimal
		if err := rows.Scan(&in.ID, &in.SplitID, &targetType, &in.TargetID, &allocType, &amount, &pct); err != nil {
			return nil, err
		}
		in.TargetType = engine.TargetType(targetType)
		in.AllocationType = engine.AllocationType(allocType)
		if amount.Valid {
			in.Amount = engine.Ptr(amount.Decimal)
		}
		if pct.Valid {
			in.Percentage = engine.Ptr(pct.Decimal)
		}
		rec.Rows = append(rec.Rows, in)
	}
	return &rec, rows.Err()
}

// ListSplits returns the headers of all active splits, newest first.
func (s *Store) ListSplits(ctx context.Context) ([]engine.Split, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, base_amount, is_active
		FROM splits WHERE is_active = TRUE
		ORDER BY created_at DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query splits: %w", err)
	}
	defer rows.Close()

	var splits []engine.Split
	for rows.Next() {
		var sp engine.Split
		var desc sql.NullString
		if err := rows.Scan(&sp.ID, &sp.Name, &desc, &sp.BaseAmount, &sp.Active); err != nil {
			return nil, err
		}
		sp.Description = stringPtr(desc)
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

// DeactivateSplit soft-deletes a split. Its distributions stay in the ledger.
func (s *Store) DeactivateSplit(ctx context.Context, id engine.SplitID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE splits SET is_active = FALSE, updated_at = ? WHERE id = ? AND is_active = TRUE",
		s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate split: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrSplitNotFound
	}
	return nil
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// ExecuteSplit implements engine.DistributionExecutor. The split is read back
// from the database and validated again, so a client that skipped validation
// cannot write an invalid distribution. All transactions, balance updates and
// the distribution record commit together or not at all.
func (s *Store) ExecuteSplit(ctx context.Context, id engine.SplitID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := getSplit(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return engine.ErrSplitNotFound
	}
	if !rec.Split.Active {
		return engine.ErrSplitInactive
	}

	valid, err := engine.ValidateSplit(rec.Split, rec.Rows)
	if err != nil {
		return err
	}
	plan := engine.PrepareDistribution(valid)

	balances := make(map[engine.TargetRef]decimal.Decimal, len(plan.Entries))
	for _, e := range plan.Entries {
		target, err := getTarget(ctx, tx, e.Target)
		if err != nil {
			return err
		}
		balances[e.Target] = target.CurrentAmount
	}

	seq := ledger.NewSequencer(balances)
	posted, err := seq.PostAll(ledger.FromPlan(plan, rec.Split.Name))
	if err != nil {
		return err
	}

	now := s.timestamp()
	for _, t := range posted {
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
	}
	for ref, balance := range seq.Balances() {
		if err := setCurrentAmount(ctx, tx, ref, balance, now); err != nil {
			return fmt.Errorf("failed to update balance of %s: %w", ref, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO distributions (id, split_id, total, entries, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), id, plan.Total.StringFixed(2), len(posted), now)
	if err != nil {
		return fmt.Errorf("failed to record distribution: %w", err)
	}

	return tx.Commit()
}

// Distributions lists the successful distributions of a split, oldest first.
func (s *Store) Distributions(ctx context.Context, id engine.SplitID) ([]Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, split_id, total, entries, created_at
		FROM distributions WHERE split_id = ? ORDER BY created_at, rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query distributions: %w", err)
	}
	defer rows.Close()

	var out []Distribution
	for rows.Next() {
		var d Distribution
		var createdAt string
		if err := rows.Scan(&d.ID, &d.SplitID, &d.Total, &d.Entries, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
