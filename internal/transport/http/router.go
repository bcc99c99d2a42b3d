package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Source         StateSource
	WS             http.HandlerFunc
	AllowedOrigins []string
	Logger         *slog.Logger

	// Journal включает /session/journal; nil — журнал выключен.
	Journal   JournalSource
	SessionID string
}

func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(logging(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Session-Version"},
		MaxAge:         300,
	}))

	// WS без таймаута
	if d.WS != nil {
		r.Get("/ws/session", d.WS)
	}

	h := NewHandler(d.Source)
	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Timeout(10 * time.Second))

		gr.Route("/session", func(sr chi.Router) {
			sr.Get("/", h.Session)
			sr.Get("/participants", h.Participants)
			sr.Get("/participants/{identity}", func(w http.ResponseWriter, r *http.Request) {
				h.Participant(w, r, chi.URLParam(r, "identity"))
			})
			sr.Get("/view", h.View)
			sr.Get("/readiness", h.Readiness)
			if d.Journal != nil {
				sr.Get("/journal", NewJournalHandler(d.Journal, d.SessionID, log).History)
			}
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
