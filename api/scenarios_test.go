package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/ledger"
)

func TestScenarios_AllLoad(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "`+sc.ID+`"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = s.do(t, http.MethodGet, "/api/scenarios/current", "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, sc.ID, decode[ScenarioDTO](t, rec).ID)

			// Every saved split passes validation
			splits, err := s.handler.Store.ListSplits(context.Background())
			require.NoError(t, err)
			require.NotEmpty(t, splits)
			for _, sp := range splits {
				rec, err := s.handler.Store.GetSplit(context.Background(), sp.ID)
				require.NoError(t, err)
				_, err = engine.ValidateSplit(rec.Split, rec.Rows)
				assert.NoError(t, err, sp.ID)
			}
		})
	}
}

func TestScenario_PaydaySummary(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "payday"}`).Code)

	rec := s.do(t, http.MethodGet, "/api/splits/payday/summary", "")

	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[SummaryDTO](t, rec)
	assert.Equal(t, "15000.00", sum.Total)
	assert.Equal(t, "5000.00", sum.Remaining)
}

func TestScenario_HistoryLedger(t *testing.T) {
	// GIVEN: The history scenario, payday distributed twice
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "history"}`).Code)

	// THEN: The emergency fund got 25% of 20,000 twice on top of 10,000
	assert.Equal(t, "20000.00", balanceOf(t, s, refEmergency))
	assert.Equal(t, "16000.00", balanceOf(t, s, refRent))

	txs, err := s.handler.Store.Transactions(context.Background(), refEmergency)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.NoError(t, ledger.Verify(engine.MustAmount("10000"), txs))

	dists, err := s.handler.Store.Distributions(context.Background(), "payday")
	require.NoError(t, err)
	assert.Len(t, dists, 2)
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "history"}`).Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "even-split"}`).Code)

	assert.Equal(t, "10000.00", balanceOf(t, s, refEmergency))
	splits, err := s.handler.Store.ListSplits(context.Background())
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, engine.SplitID("even"), splits[0].ID)
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "lottery"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = s.do(t, http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	targets, err := s.handler.Store.Targets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}
