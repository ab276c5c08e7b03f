/*
Package ledger models the transactions recorded against buckets and goals.

PURPOSE:
  Every change to a target's balance is a ledger transaction: inbound adds
  to the balance, outbound takes from it. Each transaction carries the
  balance immediately after it was applied, so the history of a target can
  be read without replaying it.

CRITICAL INVARIANTS:
  1. SEQUENCED: balance_after of transaction n equals balance_after of n-1
     plus (inbound) or minus (outbound) its amount
  2. NON-NEGATIVE: an outbound transaction cannot take a balance below zero
  3. CENTS: amounts are positive, at most 999,999,999.99, with at most two
     decimal places

The Sequencer is the single place where balance_after is assigned. Both the
SQLite and the in-memory executors post through it while holding their
write lock, which serializes transactions per target.

SEE ALSO:
  - engine/distribute.go: DistributionPlan, the source of split transactions
  - store/sqlite/sqlite.go: Persists sequenced transactions
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/split-engine/engine"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrOutOfSequence       = errors.New("balance_after out of sequence")
)

const MaxDescriptionLength = 500

type TransactionID string

type Transaction struct {
	ID           TransactionID
	Target       engine.TargetRef
	Type         engine.TransactionType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Description  string
	SplitID      engine.SplitID // set when written by a distribution
	CreatedAt    time.Time
}

// InvalidTransactionError names the field that made a transaction invalid.
type InvalidTransactionError struct {
	Field  string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction %s: %s", e.Field, e.Reason)
}

func (e *InvalidTransactionError) Unwrap() error { return ErrInvalidTransaction }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Target    engine.TargetRef
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, requested %s",
		e.Target, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Validate checks a transaction before it is sequenced.
func Validate(tx Transaction) error {
	if !tx.Target.Type.Valid() || tx.Target.ID == "" {
		return &InvalidTransactionError{Field: "target", Reason: "unknown target"}
	}
	if !tx.Type.Valid() {
		return &InvalidTransactionError{Field: "type", Reason: "must be inbound or outbound"}
	}
	if !tx.Amount.IsPositive() {
		return &InvalidTransactionError{Field: "amount", Reason: "must be greater than 0"}
	}
	if tx.Amount.GreaterThan(engine.MaxCurrency) {
		return &InvalidTransactionError{Field: "amount", Reason: "cannot exceed 999,999,999.99"}
	}
	if !tx.Amount.Equal(engine.Round2(tx.Amount)) {
		return &InvalidTransactionError{Field: "amount", Reason: "can only have up to 2 decimal places"}
	}
	desc := strings.TrimSpace(tx.Description)
	if desc == "" {
		return &InvalidTransactionError{Field: "description", Reason: "is required"}
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return &InvalidTransactionError{Field: "description", Reason: "cannot exceed 500 characters"}
	}
	return nil
}

// Apply returns the balance after applying amount in direction t.
func Apply(balance decimal.Decimal, t engine.TransactionType, amount decimal.Decimal) (decimal.Decimal, error) {
	switch t {
	case engine.Inbound:
		return balance.Add(amount), nil
	case engine.Outbound:
		if amount.GreaterThan(balance) {
			return balance, ErrInsufficientBalance
		}
		return balance.Sub(amount), nil
	}
	return balance, &InvalidTransactionError{Field: "type", Reason: "must be inbound or outbound"}
}

// Verify checks that txs, in order, are correctly sequenced from opening.
func Verify(opening decimal.Decimal, txs []Transaction) error {
	balance := opening
	for i, tx := range txs {
		next, err := Apply(balance, tx.Type, tx.Amount)
		if err != nil {
			return fmt.Errorf("transaction %d (%s): %w", i, tx.ID, err)
		}
		if !next.Equal(tx.BalanceAfter) {
			return fmt.Errorf("transaction %d (%s): expected %s, recorded %s: %w",
				i, tx.ID, next.StringFixed(2), tx.BalanceAfter.StringFixed(2), ErrOutOfSequence)
		}
		balance = next
	}
	return nil
}

// =============================================================================
// SEQUENCER
// =============================================================================

// Sequencer assigns balance_after to transactions posted against a known set
// of opening balances. It is not safe for concurrent use; callers post while
// holding their own write lock.
type Sequencer struct {
	balances map[engine.TargetRef]decimal.Decimal
	now      func() time.Time
}

// NewSequencer starts from the given current balances.
func NewSequencer(balances map[engine.TargetRef]decimal.Decimal) *Sequencer {
	b := make(map[engine.TargetRef]decimal.Decimal, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Sequencer{balances: b, now: func() time.Time { return time.Now().UTC() }}
}

// Post validates tx, applies it to its target's running balance and returns
// it with ID, BalanceAfter and CreatedAt filled in.
func (s *Sequencer) Post(tx Transaction) (Transaction, error) {
	if err := Validate(tx); err != nil {
		return Transaction{}, err
	}
	balance, ok := s.balances[tx.Target]
	if !ok {
		return Transaction{}, fmt.Errorf("%s: %w", tx.Target, engine.ErrTargetNotFound)
	}
	next, err := Apply(balance, tx.Type, tx.Amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return Transaction{}, &InsufficientBalanceError{Target: tx.Target, Available: balance, Requested: tx.Amount}
		}
		return Transaction{}, err
	}
	s.balances[tx.Target] = next

	tx.Description = strings.TrimSpace(tx.Description)
	tx.BalanceAfter = next
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	return tx, nil
}

// Balance returns the running balance of target.
func (s *Sequencer) Balance(target engine.TargetRef) (decimal.Decimal, bool) {
	b, ok := s.balances[target]
	return b, ok
}

// Balances returns a copy of every running balance.
func (s *Sequencer) Balances() map[engine.TargetRef]decimal.Decimal {
	out := make(map[engine.TargetRef]decimal.Decimal, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// FromPlan converts a distribution plan into unsequenced transactions.
// Entries that round to zero cents write nothing and are skipped.
func FromPlan(plan engine.DistributionPlan, splitName string) []Transaction {
	txs := make([]Transaction, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		if e.Amount.IsZero() {
			continue
		}
		txs = append(txs, Transaction{
			Target:      e.Target,
			Type:        e.Type,
			Amount:      e.Amount,
			Description: fmt.Sprintf("Split distribution: %s", splitName),
			SplitID:     plan.SplitID,
		})
	}
	return txs
}

// PostAll posts txs in order. On error nothing is applied to s.
func (s *Sequencer) PostAll(txs []Transaction) ([]Transaction, error) {
	saved := s.Balances()
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		posted, err := s.Post(tx)
		if err != nil {
			s.balances = saved
			return nil, err
		}
		out = append(out, posted)
	}
	return out, nil
}
