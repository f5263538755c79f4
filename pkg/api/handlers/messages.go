package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatsync/pkg/auth"
	"chatsync/pkg/history"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/relay"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"
)

// RegisterMessages registers HTTP handlers for message-related endpoints.
func RegisterMessages(r *mux.Router, hub *relay.Hub) {
	h := &messageHandlers{hub: hub}

	// /v1/conversations/{id}/messages
	r.HandleFunc("/conversations/{id}/messages", h.list).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", h.create).Methods(http.MethodPost)

	// /v1/messages/{id}
	r.HandleFunc("/messages/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/versions", h.versions).Methods(http.MethodGet)
}

type messageHandlers struct {
	hub *relay.Hub
}

func (h *messageHandlers) list(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := history.ListMessages(convID, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string           `json:"conversation_id"`
		Messages     []models.Message `json:"messages"`
	}{Conversation: convID, Messages: msgs})
}

// create persists an attachment-backed (or backend-originated) message
// over the durable REST path and echoes it to live room members.
func (h *messageHandlers) create(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var m models.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m.Conversation = convID
	if uid := auth.UserIDFromContext(r.Context()); uid != "" {
		m.Sender = uid
	}
	if m.Type == "" {
		m.Type = models.TypeText
	}
	if err := validation.ValidateMessage(m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.ID = utils.GenMessageID()
	m.CreatedAt = time.Now().UTC().UnixNano()
	m.State = ""
	m.Read = false
	m.Edited = false
	m.Deleted = false
	if err := history.SaveMessage(m); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.MessagesTotal.WithLabelValues("create").Inc()
	h.hub.Broadcast(convID, models.EvMessageNew, m)
	logger.Info("message_created", "conversation", convID, "id", m.ID)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *messageHandlers) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := history.GetLatest(id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *messageHandlers) update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := history.GetLatest(id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	if uid := auth.UserIDFromContext(r.Context()); uid != "" && uid != m.Sender {
		utils.JSONError(w, http.StatusForbidden, "not the sender")
		return
	}
	p := models.EditPayload{ID: id, Conversation: m.Conversation, Content: body.Content}
	if err := validation.ValidateEdit(p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if m.Deleted {
		utils.JSONError(w, http.StatusConflict, "message is deleted")
		return
	}
	m.Content = body.Content
	m.Edited = true
	if err := history.UpdateMessage(m); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.MessagesTotal.WithLabelValues("edit").Inc()
	h.hub.Broadcast(m.Conversation, models.EvMessageEdited, p)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *messageHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := history.GetLatest(id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	if uid := auth.UserIDFromContext(r.Context()); uid != "" && uid != m.Sender {
		utils.JSONError(w, http.StatusForbidden, "not the sender")
		return
	}
	deleted, err := history.SoftDelete(id)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.MessagesTotal.WithLabelValues("delete").Inc()
	h.hub.Broadcast(deleted.Conversation, models.EvMessageDeleted, models.DeletePayload{
		ID: id, Conversation: deleted.Conversation,
	})
	_ = utils.JSONWrite(w, http.StatusOK, deleted)
}

func (h *messageHandlers) versions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	vs, err := history.ListVersions(id)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(vs) == 0 {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID       string           `json:"id"`
		Versions []models.Message `json:"versions"`
	}{ID: id, Versions: vs})
}
