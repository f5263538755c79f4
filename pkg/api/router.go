// Package api exposes the relay's REST and websocket endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/api/handlers"
	"chatsync/pkg/relay"
	"chatsync/pkg/upload"
)

// Options wires the router's collaborators.
type Options struct {
	Hub       *relay.Hub
	UploadDir string
	Limits    upload.Limits
}

// Router builds the /v1 API router. Auth and logging middleware are
// layered on by the app.
func Router(opts Options) *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	handlers.RegisterMessages(v1, opts.Hub)
	handlers.RegisterUpload(v1, opts.UploadDir, opts.Limits)

	r.HandleFunc("/ws", handlers.ServeWS(opts.Hub)).Methods(http.MethodGet)
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadDir))))
	return r
}
