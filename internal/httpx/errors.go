package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.uber.org/zap"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ProductID string `json:"productId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch orders.KindOf(err) {
	case orders.KindValidation, orders.KindInvalidTransition, orders.KindInvalidSignature:
		return http.StatusBadRequest
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindConflict:
		return http.StatusConflict
	case orders.KindForbidden:
		return http.StatusForbidden
	case orders.KindInfrastructure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps err onto the error taxonomy. Unclassified errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	d := errorDetail{Code: orders.Code(err), Message: err.Error()}
	var se *inventory.StockError
	if errors.As(err, &se) {
		d.ProductID = se.ProductID
	}
	if code >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), nil).Error("request_failed", zap.Error(err))
		if code == http.StatusInternalServerError {
			d.Message = "internal error"
		}
	}
	writeJSON(w, code, errorBody{Error: d})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "VALIDATION_ERROR", Message: msg}})
}
