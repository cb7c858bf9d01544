package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finanza-bank/ledger-core/internal/api/httpx"
	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/middleware"
	"github.com/finanza-bank/ledger-core/internal/services"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Log        *slog.Logger
	Ready      Pinger
	Balances   *services.BalanceEngine
	Reconciler *services.Reconciler
	// OpsRPS caps the /ops routes; zero disables the cap.
	OpsRPS int
}

// NewRouter serves the operational surface of the ledger process: probes,
// metrics and read-mostly ledger diagnostics.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover(d.Log), middleware.HTTPMetrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready.Ping(ctx); err != nil {
				d.Log.WarnContext(ctx, "readiness check failed", "err", err)
				httpx.WriteError(w, apperr.Wrap(apperr.CodeDependency, err, "database unavailable"))
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/ops", func(r chi.Router) {
		r.Use(middleware.RateLimit(d.OpsRPS))

		r.Get("/integrity", func(w http.ResponseWriter, r *http.Request) {
			report, err := d.Balances.Integrity(r.Context())
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, struct {
				Balanced bool `json:"balanced"`
				services.IntegrityReport
			}{report.Balanced(), report})
		})

		r.Get("/users/{id}/balance", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			b, err := d.Balances.Breakdown(r.Context(), id)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, b)
		})

		r.Get("/accounts/{id}/reconcile", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			consistent, err := d.Balances.Reconcile(r.Context(), id)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": consistent})
		})

		r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
			repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))
			report, err := d.Reconciler.RunOnce(r.Context(), repair)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, report)
		})
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, apperr.New(apperr.CodeValidation, "id must be a positive integer"))
		return 0, false
	}
	return id, true
}
