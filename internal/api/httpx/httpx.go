package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/finanza-bank/ledger-core/internal/apperr"
)

type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err with the status of its apperr code. Untyped
// errors are reported as INTERNAL_ERROR without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	te := apperr.As(err)
	if te == nil {
		te = apperr.New(apperr.CodeInternal, "internal error")
	}
	meta := apperr.MetadataFor(te.Code())
	WriteJSON(w, meta.HTTPStatus, APIError{
		Error:     te.Message(),
		Code:      string(te.Code()),
		Retryable: meta.Retryable,
		Details:   te.Details(),
	})
}
