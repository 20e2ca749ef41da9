package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/jhyang-dev/reverie/backend/internal/handler/chat"
	personaHandler "github.com/jhyang-dev/reverie/backend/internal/handler/persona"
	middlewarePkg "github.com/jhyang-dev/reverie/backend/internal/middleware"
	personaModel "github.com/jhyang-dev/reverie/backend/internal/model/persona"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	chatService "github.com/jhyang-dev/reverie/backend/internal/service/chat"
	"github.com/jhyang-dev/reverie/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		personaHandler.New(personas).RegisterRoutes(api)

		// Everything that reads or writes a user's conversations requires
		// the forwarded identity.
		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireUser)
			chatHandler.New(chatSvc, log).RegisterRoutes(authed)
		})
	})

	return r
}
