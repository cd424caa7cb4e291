// Package webhook is the payment event intake: it authenticates incoming
// payment notifications, resolves attribution candidates from recent runs, and
// hands them to the service to claim.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luno/jettison/errors"

	"github.com/easymodehq/workflowrun"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service       *workflowrun.Service
	signingSecret []byte
	stripeSecret  string
}

// NewHandler returns the intake handler. The signing secret authenticates the
// platform's internal payment notifications on /webhooks/payments.
func NewHandler(service *workflowrun.Service, signingSecret string, opts ...Option) *Handler {
	h := &Handler{
		service:       service,
		signingSecret: []byte(signingSecret),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

type Option func(*Handler)

// WithStripeSecret enables the stripe intake route, verified with the endpoint
// signing secret from the stripe dashboard.
func WithStripeSecret(secret string) Option {
	return func(h *Handler) {
		h.stripeSecret = secret
	}
}

// RegisterRoutes registers the intake endpoints on the given mux. The stripe
// route is only registered when a stripe secret was configured.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/payments", h.handlePayments)
	if h.stripeSecret != "" {
		mux.HandleFunc("POST /webhooks/stripe", h.handleStripe)
	}
}

// paymentsRequest is the platform's internal payment notification, signed with
// hex HMAC-SHA256 of the raw body in the X-Signature header.
type paymentsRequest struct {
	EventID     string    `json:"eventId"`
	ProjectID   string    `json:"projectId"`
	AmountMinor int64     `json:"amountMinor"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurredAt"`
	RunID       string    `json:"runId,omitempty"`
	Email       string    `json:"email,omitempty"`
	CartID      string    `json:"cartId,omitempty"`
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	if !h.validSignature(body, r.Header.Get("X-Signature")) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var req paymentsRequest
	err = json.Unmarshal(body, &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"})
		return
	}

	if req.EventID == "" || req.ProjectID == "" || req.OccurredAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "eventId, projectId and occurredAt are required"})
		return
	}

	ev := workflowrun.PaymentEvent{
		ID:          req.EventID,
		ProjectID:   req.ProjectID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		OccurredAt:  req.OccurredAt,
	}

	h.attribute(w, r, ev, Evidence{
		RunID:  req.RunID,
		Email:  req.Email,
		CartID: req.CartID,
	})
}

// attribute funnels both intake routes into the service and maps the outcome
// onto HTTP: 200 with the attribution, whether newly claimed or an absorbed
// duplicate delivery, 202 when no run qualified, 500 otherwise.
func (h *Handler) attribute(w http.ResponseWriter, r *http.Request, ev workflowrun.PaymentEvent, evidence Evidence) {
	ctx := r.Context()

	candidates, err := ResolveCandidates(ctx, h.service, ev, evidence)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	attribution, err := h.service.AttributeOutcome(ctx, ev, candidates)
	if errors.Is(err, workflowrun.ErrNoEligibleRuns) {
		// NoReturnErr: Accepted but unmatched; a 2xx stops provider retries.
		writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
		return
	} else if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, attributionResponse{
		AttributionID:  attribution.ID,
		RunID:          attribution.RunID,
		PaymentEventID: attribution.PaymentEventID,
		Model:          attribution.Model,
		Method:         attribution.Method.String(),
		Confidence:     attribution.Confidence.String(),
		AmountMinor:    attribution.AmountMinor,
		Currency:       attribution.Currency,
	})
}

// validSignature checks the hex HMAC-SHA256 signature of the raw body. An
// optional "sha256=" prefix is accepted.
func (h *Handler) validSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	signature = strings.TrimPrefix(signature, "sha256=")

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.signingSecret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type attributionResponse struct {
	AttributionID  string `json:"attributionId"`
	RunID          string `json:"runId"`
	PaymentEventID string `json:"paymentEventId"`
	Model          string `json:"model"`
	Method         string `json:"method"`
	Confidence     string `json:"confidence"`
	AmountMinor    int64  `json:"amountMinor"`
	Currency       string `json:"currency"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
