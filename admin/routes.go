package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()

	r.Route("/publications", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Get("/", handlers.handleListPublications)
		r.Get("/{registrationID}", handlers.handleGetPublication)
	})

	if handlers.metrics != nil {
		r.With(AuthMiddleware).Get("/metrics", handlers.metrics.ServeHTTP)
	}

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/publications")
}
