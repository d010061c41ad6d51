package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer()

	var scenarios []map[string]any
	code := ts.do(t, http.MethodGet, "/api/scenarios/", nil, &scenarios)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, scenarios, 4)
	assert.Equal(t, "fresh-job", scenarios[0]["id"])
}

func TestLoadScenario_UnknownID(t *testing.T) {
	ts := newTestServer()

	code := ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"id": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLoadScenario_FreshJob(t *testing.T) {
	ts := newTestServer()

	code := ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"id": "fresh-job"}, nil)
	require.Equal(t, http.StatusOK, code)

	var invoices []map[string]any
	code = ts.do(t, http.MethodGet, "/api/jobs/job-riverside/invoices", nil, &invoices)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, invoices, 2)
	assert.Equal(t, "received", invoices[0]["status"])

	var current map[string]any
	code = ts.do(t, http.MethodGet, "/api/scenarios/current", nil, &current)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fresh-job", current["current"])
}

func TestLoadScenario_FundedDraw(t *testing.T) {
	// The deepest scenario exercises the whole lifecycle: PO intake,
	// coding, approval, draw assembly, change-order billing, submission,
	// funding and settlement.
	ts := newTestServer()

	code := ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"id": "funded-draw"}, nil)
	require.Equal(t, http.StatusOK, code)

	var draws []map[string]any
	code = ts.do(t, http.MethodGet, "/api/jobs/job-riverside/draws", nil, &draws)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, draws, 1)
	assert.Equal(t, "funded", draws[0]["status"])
	// 10,000 + 6,000 invoices plus a 1,500 change order.
	assert.Equal(t, "17500.00", draws[0]["total_amount"])

	var invoices []map[string]any
	code = ts.do(t, http.MethodGet, "/api/jobs/job-riverside/invoices", nil, &invoices)
	require.Equal(t, http.StatusOK, code)
	for _, inv := range invoices {
		assert.Equal(t, "paid", inv["status"])
	}
}

func TestLoadScenario_Reloadable(t *testing.T) {
	// Loading twice resets rather than duplicating the seed data.
	ts := newTestServer()

	for i := 0; i < 2; i++ {
		code := ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"id": "fresh-job"}, nil)
		require.Equal(t, http.StatusOK, code)
	}

	var invoices []map[string]any
	code := ts.do(t, http.MethodGet, "/api/jobs/job-riverside/invoices", nil, &invoices)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, invoices, 2)
}
