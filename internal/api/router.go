package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers bundles the dependencies of the HTTP surface.
type Handlers struct {
	Connections  *ConnectionsHandler
	Sync         *SyncHandler
	Transactions *TransactionsHandler
}

// NewRouter builds the API router. The request timeout is generous because
// the decoupled-TAN poll endpoint blocks up to its poll budget.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Get("/banks", h.Connections.Banks)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", h.Connections.List)
			r.Post("/", h.Connections.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Connections.Get)
				r.Put("/", h.Connections.Update)
				r.Get("/stats", h.Connections.Stats)

				r.Post("/sync", h.Sync.Start)
				r.Post("/sync/tan", h.Sync.SubmitTan)
				r.Post("/sync/poll", h.Sync.Poll)
				r.Post("/sync/cancel", h.Sync.Cancel)

				r.Get("/transactions", h.Transactions.ListByConnection)
				r.Delete("/transactions", h.Transactions.DeleteAll)
			})
		})

		r.Route("/transactions/{id}", func(r chi.Router) {
			r.Post("/automatch", h.Transactions.AutoMatch)
			r.Post("/match", h.Transactions.Match)
			r.Post("/unmatch", h.Transactions.Unmatch)
			r.Post("/ignore", h.Transactions.Ignore)
			r.Post("/unignore", h.Transactions.Unignore)
			r.Post("/import", h.Transactions.Import)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
