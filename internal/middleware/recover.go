package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/finanza-bank/ledger-core/internal/api/httpx"
	"github.com/finanza-bank/ledger-core/internal/apperr"
)

func Recover(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.ErrorContext(r.Context(), "panic",
						"err", rec, "request_id", RequestIDFrom(r.Context()), "stack", string(debug.Stack()))
					httpx.WriteError(w, apperr.New(apperr.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
