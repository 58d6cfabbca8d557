package websocket

import (
	"net/http"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	commonhttp "github.com/AlibekovAA/class-schedule/internal/common/http"
	"github.com/AlibekovAA/class-schedule/internal/common/jwtverify"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

// Handler upgrades authenticated requests to a schedule feed connection. It
// must be mounted behind the auth guard.
type Handler struct {
	hub          *Hub
	upgrader     gorillaWS.Upgrader
	errorHandler *commonhttp.ErrorHandler
	log          *logger.Logger
}

func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillaWS.Upgrader{
			ReadBufferSize:  constants.WebSocketReadBufferSize,
			WriteBufferSize: constants.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				host := r.Host
				if host == "" {
					host = r.URL.Host
				}
				return origin == "http://"+host || origin == "https://"+host
			},
		},
		errorHandler: commonhttp.NewErrorHandler(log),
		log:          log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := jwtverify.FromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, commonerrors.ErrUnauthenticated)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithFields(r.Context(), logger.Fields{
			"user_id": string(identity.ID),
			"action":  "ws_upgrade_failed",
		}).Warnf("websocket upgrade failed: %v", err)
		return
	}

	NewClient(r.Context(), h.hub, conn, string(identity.ID), h.log).Start()
}
