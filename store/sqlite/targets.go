package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/ledger"
)

// =============================================================================
// TARGET RECORDS
// =============================================================================

// Bucket is a savings bucket.
type Bucket struct {
	ID            string
	Name          string
	Description   *string
	CurrentAmount decimal.Decimal
	Active        bool
}

// Goal is a savings goal. TargetAmount is informational only.
type Goal struct {
	ID            string
	Name          string
	Description   *string
	CurrentAmount decimal.Decimal
	TargetAmount  decimal.Decimal
	Active        bool
}

func (b Bucket) Target() engine.Target {
	return engine.Target{
		Ref:           engine.TargetRef{Type: engine.TargetBucket, ID: engine.TargetID(b.ID)},
		Name:          b.Name,
		CurrentAmount: b.CurrentAmount,
	}
}

func (g Goal) Target() engine.Target {
	target := g.TargetAmount
	return engine.Target{
		Ref:           engine.TargetRef{Type: engine.TargetGoal, ID: engine.TargetID(g.ID)},
		Name:          g.Name,
		CurrentAmount: g.CurrentAmount,
		TargetAmount:  &target,
	}
}

// SaveBucket inserts a bucket, or renames an existing one. The balance of an
// existing bucket only changes through transactions.
func (s *Store) SaveBucket(ctx context.Context, b Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buckets (id, name, description, current_amount, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, b.ID, b.Name, nullString(b.Description), engine.Round2(b.CurrentAmount).StringFixed(2), b.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save bucket: %w", err)
	}
	return nil
}

// SaveGoal inserts a goal, or updates an existing one's name, description and
// target amount.
func (s *Store) SaveGoal(ctx context.Context, g Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, name, description, current_amount, target_amount, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			target_amount = excluded.target_amount,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, g.ID, g.Name, nullString(g.Description), engine.Round2(g.CurrentAmount).StringFixed(2),
		engine.Round2(g.TargetAmount).StringFixed(2), g.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}
	return nil
}

// ListBuckets returns all active buckets ordered by name.
func (s *Store) ListBuckets(ctx context.Context) ([]Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBuckets(ctx, s.db)
}

func listBuckets(ctx context.Context, q queryer) ([]Bucket, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, description, current_amount, is_active
		FROM buckets WHERE is_active = TRUE ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		var desc sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &desc, &b.CurrentAmount, &b.Active); err != nil {
			return nil, err
		}
		b.Description = stringPtr(desc)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// ListGoals returns all active goals ordered by name.
func (s *Store) ListGoals(ctx context.Context) ([]Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGoals(ctx, s.db)
}

func listGoals(ctx context.Context, q queryer) ([]Goal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, description, current_amount, target_amount, is_active
		FROM goals WHERE is_active = TRUE ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		var desc sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &desc, &g.CurrentAmount, &g.TargetAmount, &g.Active); err != nil {
			return nil, err
		}
		g.Description = stringPtr(desc)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// Targets implements engine.TargetReader: active buckets, then active goals.
func (s *Store) Targets(ctx context.Context) ([]engine.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets, err := listBuckets(ctx, s.db)
	if err != nil {
		return nil, err
	}
	goals, err := listGoals(ctx, s.db)
	if err != nil {
		return nil, err
	}

	targets := make([]engine.Target, 0, len(buckets)+len(goals))
	for _, b := range buckets {
		targets = append(targets, b.Target())
	}
	for _, g := range goals {
		targets = append(targets, g.Target())
	}
	return targets, nil
}

// GetTarget returns one active bucket or goal, or nil if there is none.
func (s *Store) GetTarget(ctx context.Context, ref engine.TargetRef) (*engine.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := getTarget(ctx, s.db, ref)
	if errors.Is(err, engine.ErrTargetNotFound) {
		return nil, nil
	}
	return t, err
}

func getTarget(ctx context.Context, q queryer, ref engine.TargetRef) (*engine.Target, error) {
	switch ref.Type {
	case engine.TargetBucket:
		var b Bucket
		err := q.QueryRowContext(ctx,
			"SELECT id, name, current_amount FROM buckets WHERE id = ? AND is_active = TRUE", ref.ID,
		).Scan(&b.ID, &b.Name, &b.CurrentAmount)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", ref, engine.ErrTargetNotFound)
		}
		if err != nil {
			return nil, err
		}
		t := b.Target()
		return &t, nil
	case engine.TargetGoal:
		var g Goal
		err := q.QueryRowContext(ctx,
			"SELECT id, name, current_amount, target_amount FROM goals WHERE id = ? AND is_active = TRUE", ref.ID,
		).Scan(&g.ID, &g.Name, &g.CurrentAmount, &g.TargetAmount)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", ref, engine.ErrTargetNotFound)
		}
		if err != nil {
			return nil, err
		}
		t := g.Target()
		return &t, nil
	}
	return nil, fmt.Errorf("%s: %w", ref, engine.ErrTargetNotFound)
}

func setCurrentAmount(ctx context.Context, q queryer, ref engine.TargetRef, amount decimal.Decimal, now string) error {
	table := "buckets"
	if ref.Type == engine.TargetGoal {
		table = "goals"
	}
	_, err := q.ExecContext(ctx,
		"UPDATE "+table+" SET current_amount = ?, updated_at = ? WHERE id = ?",
		amount.StringFixed(2), now, ref.ID)
	return err
}

// =============================================================================
// LEDGER
// =============================================================================

// Record posts a manual inbound or outbound transaction against a target.
func (s *Store) Record(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	target, err := getTarget(ctx, sqlTx, tx.Target)
	if err != nil {
		return ledger.Transaction{}, err
	}
	seq := ledger.NewSequencer(map[engine.TargetRef]decimal.Decimal{target.Ref: target.CurrentAmount})
	posted, err := seq.Post(tx)
	if err != nil {
		return ledger.Transaction{}, err
	}

	now := s.timestamp()
	if err := insertTransaction(ctx, sqlTx, posted); err != nil {
		return ledger.Transaction{}, err
	}
	if err := setCurrentAmount(ctx, sqlTx, target.Ref, posted.BalanceAfter, now); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return posted, nil
}

func insertTransaction(ctx context.Context, q queryer, tx ledger.Transaction) error {
	var splitID sql.NullString
	if tx.SplitID != "" {
		splitID = sql.NullString{String: string(tx.SplitID), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, target_type, target_id, tx_type, amount, balance_after, description, split_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.Target.Type,
		tx.Target.ID,
		tx.Type,
		tx.Amount.StringFixed(2),
		tx.BalanceAfter.StringFixed(2),
		tx.Description,
		splitID,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s already exists: %w", tx.ID, ledger.ErrInvalidTransaction)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Transactions returns the ledger of one target, oldest first.
func (s *Store) Transactions(ctx context.Context, ref engine.TargetRef) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT id, target_type, target_id, tx_type, amount, balance_after, description, split_id, created_at
		FROM transactions
		WHERE target_type = ? AND target_id = ?
		ORDER BY seq ASC
	`, ref.Type, ref.ID)
}

// SplitTransactions returns every transaction written by distributions of a
// split, oldest first.
func (s *Store) SplitTransactions(ctx context.Context, id engine.SplitID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT id, target_type, target_id, tx_type, amount, balance_after, description, split_id, created_at
		FROM transactions
		WHERE split_id = ?
		ORDER BY seq ASC
	`, id)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var targetType, txType, createdAt string
		var splitID sql.NullString
		if err := rows.Scan(&tx.ID, &targetType, &tx.Target.ID, &txType, &tx.Amount,
			&tx.BalanceAfter, &tx.Description, &splitID, &createdAt); err != nil {
			return nil, err
		}
		tx.Target.Type = engine.TargetType(targetType)
		tx.Type = engine.TransactionType(txType)
		tx.SplitID = engine.SplitID(splitID.String)
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
