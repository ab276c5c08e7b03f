/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates buckets, goals and splits that show
	a specific feature of the engine.

AVAILABLE SCENARIOS:

	payday:          Fixed rent plus percentage savings from a salary
	even-split:      One base amount spread evenly over four targets
	tight-budget:    A saved split using 95% of its base, easy to edit into
	                 an over-allocation
	history:         A split already distributed twice, with ledger history

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create buckets and goals with opening balances
 3. Build splits with factory presets and validate them
 4. Optionally distribute them through the orchestrator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payday"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Split and target handlers
  - factory/split.go: Split presets
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/factory"
	"github.com/warp/split-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "payday",
		Name:        "Payday",
		Description: "Salary split into fixed rent and percentage savings",
	},
	{
		ID:          "even-split",
		Name:        "Even Split",
		Description: "One amount spread evenly over four buckets and goals",
	},
	{
		ID:          "tight-budget",
		Name:        "Tight Budget",
		Description: "A split using 95% of its base, close to over-allocation",
	},
	{
		ID:          "history",
		Name:        "Distribution History",
		Description: "A split already distributed twice, with ledger entries",
	},
}

var (
	refRent      = engine.TargetRef{Type: engine.TargetBucket, ID: "rent"}
	refGroceries = engine.TargetRef{Type: engine.TargetBucket, ID: "groceries"}
	refSavings   = engine.TargetRef{Type: engine.TargetBucket, ID: "savings"}
	refEmergency = engine.TargetRef{Type: engine.TargetGoal, ID: "emergency-fund"}
	refVacation  = engine.TargetRef{Type: engine.TargetGoal, ID: "vacation"}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(context.Context) error
	switch req.ScenarioID {
	case "payday":
		loader = h.loadPaydayScenario
	case "even-split":
		loader = h.loadEvenSplitScenario
	case "tight-budget":
		loader = h.loadTightBudgetScenario
	case "history":
		loader = h.loadHistoryScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeInternal(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		h.writeInternal(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeInternal(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedTargets(ctx context.Context) error {
	buckets := []sqlite.Bucket{
		{ID: string(refRent.ID), Name: "Rent", CurrentAmount: engine.MustAmount("0"), Active: true},
		{ID: string(refGroceries.ID), Name: "Groceries", CurrentAmount: engine.MustAmount("120.50"), Active: true},
		{ID: string(refSavings.ID), Name: "Savings", CurrentAmount: engine.MustAmount("2500"), Active: true},
	}
	for _, b := range buckets {
		if err := h.Store.SaveBucket(ctx, b); err != nil {
			return err
		}
	}

	goals := []sqlite.Goal{
		{ID: string(refEmergency.ID), Name: "Emergency Fund", CurrentAmount: engine.MustAmount("10000"), TargetAmount: engine.MustAmount("60000"), Active: true},
		{ID: string(refVacation.ID), Name: "Vacation", CurrentAmount: engine.MustAmount("0"), TargetAmount: engine.MustAmount("25000"), Active: true},
	}
	for _, g := range goals {
		if err := h.Store.SaveGoal(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) saveScenarioSplit(ctx context.Context, sj factory.SplitJSON) (engine.ValidSplit, error) {
	split, rows := sj.ToEngine()
	valid, err := engine.ValidateSplit(split, rows)
	if err != nil {
		return engine.ValidSplit{}, fmt.Errorf("split %s: %w", sj.ID, err)
	}
	if err := h.Store.SaveSplit(ctx, valid); err != nil {
		return engine.ValidSplit{}, err
	}
	return valid, nil
}

// loadPaydayScenario: 20,000 salary, 8,000 fixed to rent, 25% to the
// emergency fund, 10% to vacation. 5,000 stays unallocated.
func (h *Handler) loadPaydayScenario(ctx context.Context) error {
	if err := h.seedTargets(ctx); err != nil {
		return err
	}

	sj := factory.FixedSplit("payday", "Payday", engine.MustAmount("20000"),
		factory.FixedShare{Target: refRent, Amount: engine.MustAmount("8000")},
	)
	desc := "Monthly salary"
	sj.Description = &desc
	sj.Allocations = append(sj.Allocations,
		factory.AllocationJSON{
			SplitID:        sj.ID,
			TargetType:     string(refEmergency.Type),
			TargetID:       string(refEmergency.ID),
			AllocationType: string(engine.AllocationPercentage),
			Percentage:     engine.Ptr(engine.MustAmount("25")),
		},
		factory.AllocationJSON{
			SplitID:        sj.ID,
			TargetType:     string(refVacation.Type),
			TargetID:       string(refVacation.ID),
			AllocationType: string(engine.AllocationPercentage),
			Percentage:     engine.Ptr(engine.MustAmount("10")),
		},
	)

	_, err := h.saveScenarioSplit(ctx, sj)
	return err
}

// loadEvenSplitScenario: 1,000 split 25/25/25/25 across four targets.
func (h *Handler) loadEvenSplitScenario(ctx context.Context) error {
	if err := h.seedTargets(ctx); err != nil {
		return err
	}

	sj := factory.EvenSplit("even", "Even Split", engine.MustAmount("1000"),
		refGroceries, refSavings, refEmergency, refVacation)
	_, err := h.saveScenarioSplit(ctx, sj)
	return err
}

// loadTightBudgetScenario: a 5,000 allowance with 3,000 fixed and 35% of the
// base, 250 left over.
func (h *Handler) loadTightBudgetScenario(ctx context.Context) error {
	if err := h.seedTargets(ctx); err != nil {
		return err
	}

	sj := factory.FixedSplit("allowance", "Allowance", engine.MustAmount("5000"),
		factory.FixedShare{Target: refGroceries, Amount: engine.MustAmount("3000")},
	)
	sj.Allocations = append(sj.Allocations, factory.AllocationJSON{
		SplitID:        sj.ID,
		TargetType:     string(refSavings.Type),
		TargetID:       string(refSavings.ID),
		AllocationType: string(engine.AllocationPercentage),
		Percentage:     engine.Ptr(engine.MustAmount("35")),
	})
	_, err := h.saveScenarioSplit(ctx, sj)
	return err
}

// loadHistoryScenario: the payday split, distributed twice.
func (h *Handler) loadHistoryScenario(ctx context.Context) error {
	if err := h.loadPaydayScenario(ctx); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		if _, err := h.distribute(ctx, "payday"); err != nil {
			return fmt.Errorf("distribution %d: %w", i+1, err)
		}
	}
	return nil
}
