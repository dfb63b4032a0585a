package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/rs/zerolog"
)

const msgSystemError = "system error"

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps domain errors to HTTP codes and the message the client
// may see.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, checkout.ErrPaymentVerificationFailed):
		return http.StatusBadGateway, checkout.ErrPaymentVerificationFailed.Error()
	case errors.Is(err, checkout.ErrPaymentInitFailed):
		return http.StatusBadGateway, checkout.ErrPaymentInitFailed.Error()
	case errors.Is(err, checkout.ErrAmountMismatch),
		errors.Is(err, prescriptions.ErrInvalidInput),
		errors.Is(err, prescriptions.ErrIncompletePricing),
		errors.Is(err, prescriptions.ErrInvalidTransition):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, prescriptions.ErrForbidden):
		return http.StatusForbidden, prescriptions.ErrForbidden.Error()
	case errors.Is(err, prescriptions.ErrNotFound):
		return http.StatusNotFound, "prescription not found"
	}
	return http.StatusInternalServerError, msgSystemError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, errorResponse{Status: "error", Message: msg})
}
