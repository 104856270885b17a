package httpx

import (
	"io"
	"net/http"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/go-chi/chi/v5"
)

const (
	HeaderStripeSignature = "Stripe-Signature"
	maxWebhookBody        = 1 << 20
)

type PaymentsHandler struct {
	Gateway    *payments.Gateway
	Reconciler *payments.Reconciler
}

// Register mounts /payments. The webhook is authenticated by its signature
// only; the other routes need an actor.
func (h *PaymentsHandler) Register(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", h.webhook)
		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/checkout/{orderId}", h.checkout)
			r.With(RequireRole(orders.RoleAdmin)).Get("/stats", h.stats)
		})
	})
}

func (h *PaymentsHandler) checkout(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Gateway.CreateCheckoutSession(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	ack, err := h.Reconciler.HandleEvent(r.Context(), payload, r.Header.Get(HeaderStripeSignature))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *PaymentsHandler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Gateway.Stats(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
