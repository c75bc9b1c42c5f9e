package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cvrender/internal/config"
	"cvrender/internal/httpapi/handlers"
	"cvrender/internal/httpkit"
	"cvrender/internal/pkg/logger"
	"cvrender/internal/pkg/middleware"
)

type Deps struct {
	Handlers *handlers.Handler
	Config   *config.Config
	Log      *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.Config.CORSAllowedOrigins,
	}))

	h := d.Handlers
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/render/{documentID}", wrap(h.PostRender))
		r.Post("/render/{documentID}/sync", wrap(h.PostRenderSync))

		r.Get("/render/jobs", wrap(h.ListJobs))
		r.Get("/render/jobs/{jobID}", wrap(h.GetJob))
		r.Get("/render/jobs/{jobID}/download", wrap(h.DownloadJob))
		r.Delete("/render/jobs/{jobID}", wrap(h.DeleteJob))

		r.Get("/files/*", wrap(h.ServeFile))
	})

	return r
}
