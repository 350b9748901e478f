// Package httpapi wires the gateway handlers onto a chi router.
package httpapi

import (
	stdhttp "net/http"
	"time"

	"server/internal/http/handlers"
	mw "server/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logger(app.Logger),
		mw.CORS([]string{"*"}),
	)

	r.Get("/healthz", app.Health)
	r.Get("/status", app.Status)
	r.Get("/file", app.File)
	r.Get("/results.zip", app.ResultsArchive)

	// Submission and uploads are the abuse-prone surface.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(app.Config.RateLimitPerMin, time.Minute))
		r.Post("/generate", app.Generate)
		r.Post("/upload", app.Upload)
		r.Post("/terminate", app.Terminate)
	})

	return r
}
