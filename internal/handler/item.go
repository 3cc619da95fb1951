package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rbrewer/listshare/internal/auth"
	"github.com/rbrewer/listshare/internal/model"
	"github.com/rbrewer/listshare/internal/push"
	"github.com/rbrewer/listshare/internal/store"
	ws "github.com/rbrewer/listshare/internal/websocket"
)

type ItemHandler struct {
	listStore *store.ListStore
	itemStore *store.ItemStore
	notifier  *Notifier
	hub       *ws.Hub
	logger    *slog.Logger
}

func NewItemHandler(ls *store.ListStore, is *store.ItemStore, n *Notifier, hub *ws.Hub, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{listStore: ls, itemStore: is, notifier: n, hub: hub, logger: logger}
}

type itemRequest struct {
	Name string `json:"name"`
}

type toggleRequest struct {
	Done bool `json:"done"`
}

// Create handles POST /api/lists/{list_id}/items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	username := auth.Username(r.Context())

	list, ok := h.authorizeList(w, r, userID)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name is required"})
		return
	}

	item, err := h.itemStore.Create(list.ID, req.Name)
	if err != nil {
		h.logger.Error("create item", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create item"})
		return
	}

	h.hub.Broadcast(ws.NewMessage("item", "created", list.PublicID, map[string]any{
		"name": item.Name, "username": username,
	}))
	h.notifier.Notify(push.Payload{
		Title:       fmt.Sprintf("%s - New Task", list.Name),
		Description: fmt.Sprintf("%s added %s", username, item.Name),
		URL:         "/" + list.PublicID,
	}, push.Meta{
		Topic:        model.TopicNewItem,
		ListID:       list.ID,
		OriginUserID: userID,
	})

	writeJSON(w, http.StatusCreated, item)
}

// Rename handles PUT /api/lists/{list_id}/items/{id}
func (h *ItemHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	username := auth.Username(r.Context())

	list, ok := h.authorizeList(w, r, userID)
	if !ok {
		return
	}
	item, ok := h.resolveItem(w, r, list)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name is required"})
		return
	}

	oldName := item.Name
	renamed, err := h.itemStore.Rename(item.ID, req.Name)
	if err != nil {
		h.logger.Error("rename item", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update item"})
		return
	}

	h.hub.Broadcast(ws.NewMessage("item", "updated", list.PublicID, map[string]any{
		"name": renamed.Name, "username": username,
	}))
	h.notifier.Notify(push.Payload{
		Title:       fmt.Sprintf("%s - Updated Task", list.Name),
		Description: fmt.Sprintf("%s updated %s to %s", username, oldName, renamed.Name),
		URL:         "/" + list.PublicID,
	}, push.Meta{
		Topic:        model.TopicItemUpdated,
		ListID:       list.ID,
		OriginUserID: userID,
	})

	writeJSON(w, http.StatusOK, renamed)
}

// Delete handles DELETE /api/lists/{list_id}/items/{id}
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	username := auth.Username(r.Context())

	list, ok := h.authorizeList(w, r, userID)
	if !ok {
		return
	}
	item, ok := h.resolveItem(w, r, list)
	if !ok {
		return
	}

	if err := h.itemStore.Delete(item.ID); err != nil {
		h.logger.Error("delete item", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete item"})
		return
	}

	h.hub.Broadcast(ws.NewMessage("item", "deleted", list.PublicID, map[string]any{
		"name": item.Name, "username": username,
	}))
	h.notifier.Notify(push.Payload{
		Title:       fmt.Sprintf("%s - Task deleted", list.Name),
		Description: fmt.Sprintf("%s deleted %s", username, item.Name),
		URL:         "/" + list.PublicID,
	}, push.Meta{
		Topic:        model.TopicItemDeleted,
		ListID:       list.ID,
		OriginUserID: userID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// ToggleDone handles POST /api/lists/{list_id}/items/{id}/toggle
func (h *ItemHandler) ToggleDone(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	username := auth.Username(r.Context())

	list, ok := h.authorizeList(w, r, userID)
	if !ok {
		return
	}
	item, ok := h.resolveItem(w, r, list)
	if !ok {
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	toggled, err := h.itemStore.SetDone(item.ID, req.Done)
	if err != nil {
		h.logger.Error("toggle item", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update item"})
		return
	}

	payload := push.Payload{
		Title:       fmt.Sprintf("%s - Task reopened", list.Name),
		Description: fmt.Sprintf("%s marked %s as open", username, toggled.Name),
		URL:         "/" + list.PublicID,
	}
	topic := model.TopicItemUndone
	action := "reopened"
	if req.Done {
		payload.Title = fmt.Sprintf("%s - Task completed", list.Name)
		payload.Description = fmt.Sprintf("%s marked %s as done", username, toggled.Name)
		topic = model.TopicItemDone
		action = "completed"
	}

	h.hub.Broadcast(ws.NewMessage("item", action, list.PublicID, map[string]any{
		"name": toggled.Name, "username": username,
	}))
	h.notifier.Notify(payload, push.Meta{
		Topic:        topic,
		ListID:       list.ID,
		OriginUserID: userID,
	})

	writeJSON(w, http.StatusOK, toggled)
}

// authorizeList resolves the list in the path and checks the user owns or is
// a member of it. Authorization failures are rejected before any notification
// logic runs.
func (h *ItemHandler) authorizeList(w http.ResponseWriter, r *http.Request, userID int64) (*model.List, bool) {
	publicID := r.PathValue("list_id")
	list, err := h.listStore.GetByPublicID(publicID)
	if err != nil {
		h.logger.Error("get list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load list"})
		return nil, false
	}
	if list == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "list not found"})
		return nil, false
	}

	allowed, err := h.listStore.IsOwnerOrMember(list.ID, userID)
	if err != nil {
		h.logger.Error("check list access", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load list"})
		return nil, false
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not authorized"})
		return nil, false
	}
	return list, true
}

func (h *ItemHandler) resolveItem(w http.ResponseWriter, r *http.Request, list *model.List) (*model.Item, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return nil, false
	}
	item, err := h.itemStore.GetByID(id)
	if err != nil {
		h.logger.Error("get item", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load item"})
		return nil, false
	}
	if item == nil || item.ListID != list.ID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return nil, false
	}
	return item, true
}
