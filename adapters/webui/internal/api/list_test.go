package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/webui/internal/api"
)

var runListFixture = []workflowrun.Run{
	{
		ID:             "run-2",
		ProjectID:      "proj_1",
		Action:         "winback",
		IdempotencyKey: "cust-9",
		CreatedAt:      time.Date(2025, time.March, 10, 13, 0, 0, 0, time.UTC),
	},
	{
		ID:             "run-1",
		ProjectID:      "proj_1",
		Action:         "cart_abandoned",
		IdempotencyKey: "cart-55",
		CreatedAt:      time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC),
	},
}

func serveList(t *testing.T, listRuns api.ListRecentRuns, req api.ListRequest) *httptest.ResponseRecorder {
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	api.List(listRuns)(rec, r)
	return rec
}

func TestListHandler(t *testing.T) {
	listRuns := func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		require.Equal(t, "proj_1", projectID)
		return runListFixture, nil
	}

	rec := serveList(t, listRuns, api.ListRequest{ProjectID: "proj_1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, "run-2", resp.Items[0].RunID)
	require.Equal(t, "run-1", resp.Items[1].RunID)
	require.Equal(t, "cart-55", resp.Items[1].IdempotencyKey)
}

func TestListHandlerAscending(t *testing.T) {
	listRuns := func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		return runListFixture, nil
	}

	rec := serveList(t, listRuns, api.ListRequest{ProjectID: "proj_1", Order: "asc"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, "run-1", resp.Items[0].RunID)
	require.Equal(t, "run-2", resp.Items[1].RunID)
}

func TestListHandlerFilterByAction(t *testing.T) {
	listRuns := func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		return runListFixture, nil
	}

	rec := serveList(t, listRuns, api.ListRequest{ProjectID: "proj_1", FilterByAction: "winback"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, "run-2", resp.Items[0].RunID)
}

func TestListHandlerLimit(t *testing.T) {
	listRuns := func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		return runListFixture, nil
	}

	rec := serveList(t, listRuns, api.ListRequest{ProjectID: "proj_1", Limit: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
}

func TestListHandlerSinceWindow(t *testing.T) {
	var gotSince time.Time
	listRuns := func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		gotSince = since
		return nil, nil
	}

	before := time.Now()
	rec := serveList(t, listRuns, api.ListRequest{ProjectID: "proj_1", SinceHours: 24})
	require.Equal(t, http.StatusOK, rec.Code)

	// The lookback lands a day back from roughly now.
	require.WithinDuration(t, before.Add(-24*time.Hour), gotSince, time.Minute)
}

func TestListHandlerStoreError(t *testing.T) {
	listRuns := func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		return nil, errors.New("store down")
	}

	rec := serveList(t, listRuns, api.ListRequest{ProjectID: "proj_1"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListHandlerMalformedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte("{not json")))
	api.List(func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
		t.Fatal("listRuns must not be called for a malformed request")
		return nil, nil
	})(rec, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
