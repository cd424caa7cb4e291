package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/easymodehq/workflowrun"
)

// Stripe event types that carry a payment outcome.
const (
	stripeCheckoutCompleted      = "checkout.session.completed"
	stripePaymentIntentSucceeded = "payment_intent.succeeded"
)

// Metadata keys the platform sets when creating checkout sessions and payment
// intents.
const (
	stripeMetaProjectID = "project_id"
	stripeMetaRunID     = "run_id"
	stripeMetaCartID    = "cart_id"
)

func (h *Handler) handleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	event, err := stripewebhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.stripeSecret)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "signature verification failed"})
		return
	}

	switch event.Type {
	case stripeCheckoutCompleted:
		var session stripe.CheckoutSession
		err := json.Unmarshal(event.Data.Raw, &session)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed checkout session"})
			return
		}

		ev, evidence, ok := checkoutPayment(event, session)
		if !ok {
			h.ignore(w)
			return
		}

		h.attribute(w, r, ev, evidence)
	case stripePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		err := json.Unmarshal(event.Data.Raw, &intent)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payment intent"})
			return
		}

		ev, evidence, ok := intentPayment(event, intent)
		if !ok {
			h.ignore(w)
			return
		}

		h.attribute(w, r, ev, evidence)
	default:
		h.ignore(w)
	}
}

// ignore acknowledges a delivery the intake cannot use, either an unhandled
// event type or a payment without project metadata. A 2xx stops stripe from
// retrying a permanently unusable delivery.
func (h *Handler) ignore(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ignored"})
}

func checkoutPayment(event stripe.Event, session stripe.CheckoutSession) (workflowrun.PaymentEvent, Evidence, bool) {
	projectID := session.Metadata[stripeMetaProjectID]
	if projectID == "" {
		return workflowrun.PaymentEvent{}, Evidence{}, false
	}

	// The session's payment intent also arrives as its own succeeded event, so
	// sharing its id collapses both deliveries onto one payment.
	paymentID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentID = session.PaymentIntent.ID
	}

	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}

	runID := session.Metadata[stripeMetaRunID]
	if runID == "" {
		runID = session.ClientReferenceID
	}

	ev := workflowrun.PaymentEvent{
		ID:          paymentID,
		ProjectID:   projectID,
		AmountMinor: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		OccurredAt:  time.Unix(event.Created, 0).UTC(),
	}

	return ev, Evidence{
		RunID:  runID,
		Email:  email,
		CartID: session.Metadata[stripeMetaCartID],
	}, true
}

func intentPayment(event stripe.Event, intent stripe.PaymentIntent) (workflowrun.PaymentEvent, Evidence, bool) {
	projectID := intent.Metadata[stripeMetaProjectID]
	if projectID == "" {
		return workflowrun.PaymentEvent{}, Evidence{}, false
	}

	ev := workflowrun.PaymentEvent{
		ID:          intent.ID,
		ProjectID:   projectID,
		AmountMinor: intent.Amount,
		Currency:    strings.ToUpper(string(intent.Currency)),
		OccurredAt:  time.Unix(event.Created, 0).UTC(),
	}

	return ev, Evidence{
		RunID:  intent.Metadata[stripeMetaRunID],
		Email:  intent.ReceiptEmail,
		CartID: intent.Metadata[stripeMetaCartID],
	}, true
}
