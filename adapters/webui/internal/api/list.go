package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/easymodehq/workflowrun"
)

const (
	defaultSinceHours = 48
	defaultLimit      = 100
)

type ListRequest struct {
	ProjectID string `json:"project_id"`
	// SinceHours bounds how far back the listing reaches, defaulting to the
	// attribution lookback of 48 hours.
	SinceHours     int    `json:"since_hours"`
	Limit          int    `json:"limit"`
	Order          string `json:"order"`
	FilterByAction string `json:"filter_by_action"`
}

type ListResponse struct {
	Items []ListItem `json:"items"`
}

// ListItem is a lightweight version of workflowrun.Run
type ListItem struct {
	RunID          string                     `json:"run_id"`
	ProjectID      string                     `json:"project_id"`
	Action         string                     `json:"action"`
	IdempotencyKey string                     `json:"idempotency_key"`
	TriggerContext workflowrun.TriggerContext `json:"trigger_context,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
}

type ListRecentRuns func(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error)

func List(listRuns ListRecentRuns) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad Request: cannot read body", http.StatusBadRequest)
			return
		}

		var req ListRequest
		err = json.Unmarshal(body, &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sinceHours := req.SinceHours
		if sinceHours <= 0 {
			sinceHours = defaultSinceHours
		}

		limit := req.Limit
		if limit <= 0 {
			limit = defaultLimit
		}

		since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)
		runs, err := listRuns(r.Context(), req.ProjectID, since)
		if err != nil {
			http.Error(w, "failed to collect runs from store", http.StatusInternalServerError)
			return
		}

		// Runs arrive most recent first.
		if req.Order == "asc" {
			for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
				runs[i], runs[j] = runs[j], runs[i]
			}
		}

		var listItems []ListItem
		for _, run := range runs {
			if req.FilterByAction != "" && run.Action != req.FilterByAction {
				continue
			}

			listItems = append(listItems, ListItem{
				RunID:          run.ID,
				ProjectID:      run.ProjectID,
				Action:         run.Action,
				IdempotencyKey: run.IdempotencyKey,
				TriggerContext: run.TriggerContext,
				CreatedAt:      run.CreatedAt,
			})

			if len(listItems) >= limit {
				break
			}
		}

		resp := ListResponse{
			Items: listItems,
		}

		b, err := json.MarshalIndent(resp, " ", " ")
		if err != nil {
			http.Error(w, "failed to json marshal list of runs", http.StatusInternalServerError)
			return
		}

		_, _ = w.Write(b)
	}
}
