package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/luno/jettison/errors"

	"github.com/easymodehq/workflowrun"
)

type SummaryRequest struct {
	RunID string `json:"run_id"`
}

type SummaryResponse struct {
	Run          ListItem          `json:"run"`
	Phase        string            `json:"phase"`
	Sends        []SendItem        `json:"sends"`
	Attributions []AttributionItem `json:"attributions"`
}

type SendItem struct {
	SendID    string    `json:"send_id"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

type AttributionItem struct {
	AttributionID  string    `json:"attribution_id"`
	PaymentEventID string    `json:"payment_event_id"`
	Model          string    `json:"model"`
	Method         string    `json:"method"`
	Confidence     string    `json:"confidence"`
	AmountMinor    int64     `json:"amount_minor"`
	Currency       string    `json:"currency"`
	AttributedAt   time.Time `json:"attributed_at"`
}

type DescribeRun func(ctx context.Context, runID string) (*workflowrun.RunSummary, error)

func Summary(describe DescribeRun) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad Request: cannot read body", http.StatusBadRequest)
			return
		}

		var req SummaryRequest
		err = json.Unmarshal(body, &req)
		if err != nil {
			http.Error(w, "Bad Request: cannot unmarshal body", http.StatusBadRequest)
			return
		}

		summary, err := describe(r.Context(), req.RunID)
		if errors.IsAny(err, workflowrun.ErrRunNotFound, workflowrun.ErrInvalidArgument) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, "failed to describe run", http.StatusInternalServerError)
			return
		}

		resp := SummaryResponse{
			Run: ListItem{
				RunID:          summary.Run.ID,
				ProjectID:      summary.Run.ProjectID,
				Action:         summary.Run.Action,
				IdempotencyKey: summary.Run.IdempotencyKey,
				TriggerContext: summary.Run.TriggerContext,
				CreatedAt:      summary.Run.CreatedAt,
			},
			Phase: summary.Phase().String(),
		}

		for _, send := range summary.Sends {
			resp.Sends = append(resp.Sends, SendItem{
				SendID:    send.ID,
				Recipient: send.Recipient,
				Status:    send.Status.String(),
				SentAt:    send.SentAt,
			})
		}

		for _, attribution := range summary.Attributions {
			resp.Attributions = append(resp.Attributions, AttributionItem{
				AttributionID:  attribution.ID,
				PaymentEventID: attribution.PaymentEventID,
				Model:          attribution.Model,
				Method:         attribution.Method.String(),
				Confidence:     attribution.Confidence.String(),
				AmountMinor:    attribution.AmountMinor,
				Currency:       attribution.Currency,
				AttributedAt:   attribution.AttributedAt,
			})
		}

		b, err := json.MarshalIndent(resp, " ", " ")
		if err != nil {
			http.Error(w, "failed to json marshal run summary", http.StatusInternalServerError)
			return
		}

		_, _ = w.Write(b)
	}
}
