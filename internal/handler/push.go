package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rbrewer/listshare/internal/auth"
	"github.com/rbrewer/listshare/internal/model"
	"github.com/rbrewer/listshare/internal/push"
	"github.com/rbrewer/listshare/internal/store"
)

// PushHandler serves subscription registration and notification preferences.
// It is only mounted when VAPID keys are configured.
type PushHandler struct {
	pushStore *store.PushStore
	listStore *store.ListStore
	service   *push.Service
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, ls *store.ListStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, listStore: ls, service: svc, logger: logger}
}

// subscribeRequest mirrors the PushSubscription.toJSON() shape browsers produce.
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "endpoint and keys are required"})
		return
	}

	sub, err := h.pushStore.Upsert(userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		h.logger.Error("save subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save subscription"})
		return
	}

	h.logger.Info("push subscription registered", "user_id", userID, "subscription_id", sub.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"id": sub.ID})
}

// Unsubscribe handles POST /api/push/unsubscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Endpoint == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "endpoint is required"})
		return
	}

	if err := h.pushStore.DeleteByEndpoint(req.Endpoint); err != nil {
		h.logger.Error("delete subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete subscription"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"key": h.service.VAPIDPublicKey()})
}

// GetTopics handles GET /api/push/topics. Every known topic is returned with
// its enabled flag so the settings page can render a full toggle grid.
func (h *PushHandler) GetTopics(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	enabled, err := h.pushStore.ListTopics(userID)
	if err != nil {
		h.logger.Error("list topics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load topics"})
		return
	}
	on := make(map[model.Topic]bool, len(enabled))
	for _, t := range enabled {
		on[t] = true
	}

	type topicState struct {
		Topic   model.Topic `json:"topic"`
		Enabled bool        `json:"enabled"`
	}
	out := make([]topicState, 0, len(model.Topics))
	for _, t := range model.Topics {
		out = append(out, topicState{Topic: t, Enabled: on[t]})
	}
	writeJSON(w, http.StatusOK, out)
}

// SetTopic handles PUT /api/push/topics/{topic}
func (h *PushHandler) SetTopic(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	topic := model.Topic(r.PathValue("topic"))
	if !model.ValidTopic(topic) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown topic"})
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	var err error
	if req.Enabled {
		err = h.pushStore.SetTopic(userID, topic)
	} else {
		err = h.pushStore.ClearTopic(userID, topic)
	}
	if err != nil {
		h.logger.Error("update topic", "topic", topic, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update topic"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "enabled": req.Enabled})
}

// ClearTopics handles DELETE /api/push/topics
func (h *PushHandler) ClearTopics(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if err := h.pushStore.ClearAllTopics(userID); err != nil {
		h.logger.Error("clear topics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear topics"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetListNotifications handles PUT /api/lists/{list_id}/notifications
func (h *PushHandler) SetListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	publicID := r.PathValue("list_id")
	list, err := h.listStore.GetByPublicID(publicID)
	if err != nil {
		h.logger.Error("get list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load list"})
		return
	}
	if list == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "list not found"})
		return
	}
	allowed, err := h.listStore.IsOwnerOrMember(list.ID, userID)
	if err != nil {
		h.logger.Error("check list access", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load list"})
		return
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not authorized"})
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if req.Enabled {
		err = h.pushStore.SetListOptIn(userID, list.ID)
	} else {
		err = h.pushStore.ClearListOptIn(userID, list.ID)
	}
	if err != nil {
		h.logger.Error("update list notifications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update notifications"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}

// TestNotification handles POST /api/push/test. It sends a payload to every
// device registered by the calling user, pruning any that have gone stale.
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	username := auth.Username(r.Context())

	subs, err := h.pushStore.ListByUser(userID)
	if err != nil {
		h.logger.Error("list subscriptions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load subscriptions"})
		return
	}
	if len(subs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscriptions registered"})
		return
	}

	payload := push.Payload{
		Title:       "ListShare - Test",
		Description: "Hi " + username + ", push notifications are working",
		URL:         "/",
	}

	sent := 0
	for i := range subs {
		if err := h.service.Send(&subs[i], payload); err != nil {
			h.logger.Warn("test notification failed", "endpoint", subs[i].Endpoint, "error", err)
			if derr := h.pushStore.DeleteByEndpoint(subs[i].Endpoint); derr != nil {
				h.logger.Error("prune subscription", "endpoint", subs[i].Endpoint, "error", derr)
			}
			continue
		}
		sent++
	}

	writeJSON(w, http.StatusOK, map[string]any{"sent": sent, "total": len(subs)})
}
