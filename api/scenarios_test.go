/*
scenarios_test.go - Tests for the demo scenario endpoints

Tests for:
- Every scenario loads through the engine
- Current scenario tracking and reset
- Scenario data matches what the API itself produces
*/
package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_AllLoad(t *testing.T) {
	s := newTestServer(t, time.Date(2025, 12, 15, 9, 0, 0, 0, time.UTC))

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, map[string]string{"status": "loaded", "scenario": sc.ID},
				decodeAs[map[string]string](t, rec))

			rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, sc.ID, decodeAs[ScenarioDTO](t, rec).ID)

			// Each load replaces the previous data.
			rec = s.do(t, http.MethodGet, "/api/tenancies", nil)
			assert.Len(t, decodeAs[[]TenancyDTO](t, rec), 1)
		})
	}
}

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t, startOfTenancy)

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ScenarioDTO](t, rec), len(scenarioLoaders))
}

func TestScenarios_UnknownScenario(t *testing.T) {
	s := newTestServer(t, startOfTenancy)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "holiday-let"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Kind)
	require.NotEmpty(t, resp.Hints)
	assert.Contains(t, resp.Hints[0], "holiday-let")
}

func TestScenarios_Reset(t *testing.T) {
	// GIVEN: A loaded scenario
	s := newTestServer(t, startOfTenancy)
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "four-weekly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: The store is reset
	rec = s.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: No tenancies or current scenario remain
	rec = s.do(t, http.MethodGet, "/api/tenancies", nil)
	assert.Empty(t, decodeAs[[]TenancyDTO](t, rec))
	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestScenarios_FourWeeklyStatement(t *testing.T) {
	// GIVEN: The four-weekly scenario with its first three payments confirmed
	s := newTestServer(t, startOfTenancy)
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "four-weekly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodGet, "/api/tenancies", nil)
	list := decodeAs[[]TenancyDTO](t, rec)
	require.Len(t, list, 1)

	// WHEN: The statement is read on 2025-12-15
	rec = s.do(t, http.MethodGet, "/api/tenancies/"+list[0].ID+"/statement?as_of=2025-12-15", nil)

	// THEN: Everything due so far is paid
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	statement := decodeAs[StatementDTO](t, rec)
	assert.Equal(t, "0.00", statement.Outstanding)
	assert.Equal(t, "3400.00", statement.TotalPaid)
	assert.Equal(t, "paid", statement.Lines[0].EffectiveStatus)
}
