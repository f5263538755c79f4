package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/relay"
	"chatsync/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// origin policy is enforced by the CORS layer in front
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and attaches it to the hub. The user id
// comes from the auth context or the user query param.
func ServeWS(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if userID == "" {
			utils.JSONError(w, http.StatusBadRequest, "user id required")
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		relay.NewClient(hub, ws, userID)
	}
}
