package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	docHandler "sharedoc/internal/document"
	"sharedoc/middleware"
	"sharedoc/socket"
)

type Deps struct {
	Documents *docHandler.DocumentHandler
	Sessions  *middleware.Sessions
	// Hub is nil unless notifications are delivered over websockets.
	Hub      *socket.Hub
	BlobRoot string
	Health   http.Handler
}

func Setup(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.SessionHeader},
		ExposedHeaders:   []string{middleware.SessionHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/health", d.Health)
	r.Handle("/storage/*", http.StripPrefix("/storage/", hideDotfiles(http.FileServer(http.Dir(d.BlobRoot)))))

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware)

		r.Route("/documents/{room_id}", func(r chi.Router) {
			r.Get("/", d.Documents.GetDocument)
			r.Post("/", d.Documents.SaveDocument)

			r.Post("/images", d.Documents.UploadImage)
			r.Delete("/images/{filename}", d.Documents.DeleteImage)

			r.Get("/lock", d.Documents.GetLockStatus)
			r.Post("/lock", d.Documents.AcquireLock)
			r.Delete("/lock", d.Documents.ReleaseLock)
			r.Put("/lock", d.Documents.Heartbeat)
		})

		if d.Hub != nil {
			r.Get("/ws/documents/{room_id}", func(w http.ResponseWriter, r *http.Request) {
				socket.ServeWs(d.Hub, w, r, chi.URLParam(r, "room_id"), middleware.SessionID(r.Context()))
			})
		}
	})

	return r
}

// hideDotfiles keeps staged uploads and other dot-prefixed entries private.
func hideDotfiles(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range strings.Split(r.URL.Path, "/") {
			if strings.HasPrefix(part, ".") {
				http.NotFound(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
