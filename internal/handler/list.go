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

type ListHandler struct {
	listStore *store.ListStore
	itemStore *store.ItemStore
	pushStore *store.PushStore
	notifier  *Notifier
	hub       *ws.Hub
	logger    *slog.Logger
}

func NewListHandler(ls *store.ListStore, is *store.ItemStore, ps *store.PushStore, n *Notifier, hub *ws.Hub, logger *slog.Logger) *ListHandler {
	return &ListHandler{listStore: ls, itemStore: is, pushStore: ps, notifier: n, hub: hub, logger: logger}
}

type listRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/lists
func (h *ListHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name is required"})
		return
	}

	list, err := h.listStore.Create(userID, req.Name)
	if err != nil {
		h.logger.Error("create list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create list"})
		return
	}

	writeJSON(w, http.StatusCreated, list)
}

// List handles GET /api/lists
func (h *ListHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	lists, err := h.listStore.ListForUser(userID)
	if err != nil {
		h.logger.Error("list lists", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list lists"})
		return
	}
	if lists == nil {
		lists = []model.List{}
	}
	writeJSON(w, http.StatusOK, lists)
}

type listDetailResponse struct {
	List                *model.List  `json:"list"`
	Items               []model.Item `json:"items,omitempty"`
	IsOwner             bool         `json:"is_owner"`
	IsMember            bool         `json:"is_member"`
	NotificationEnabled bool         `json:"notification_enabled"`
	HasSubscription     bool         `json:"has_subscription"`
}

// Get handles GET /api/lists/{list_id}. A user who opened a shared link but
// has not joined yet gets the list header without items, so the client can
// offer to join.
func (h *ListHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	list, ok := h.resolveList(w, r)
	if !ok {
		return
	}

	isOwner := list.OwnerID == userID
	isMember := false
	if !isOwner {
		member, err := h.listStore.IsOwnerOrMember(list.ID, userID)
		if err != nil {
			h.logger.Error("check membership", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load list"})
			return
		}
		isMember = member
	}

	resp := listDetailResponse{List: list, IsOwner: isOwner, IsMember: isMember}

	if isOwner || isMember {
		items, err := h.itemStore.ListByList(list.ID)
		if err != nil {
			h.logger.Error("list items", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load items"})
			return
		}
		if items == nil {
			items = []model.Item{}
		}
		resp.Items = items

		optedIn, err := h.pushStore.HasListOptIn(userID, list.ID)
		if err == nil {
			resp.NotificationEnabled = optedIn
		}
		hasSub, err := h.pushStore.HasSubscription(userID)
		if err == nil {
			resp.HasSubscription = hasSub
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Rename handles PUT /api/lists/{list_id}. Owner only.
func (h *ListHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	list, ok := h.resolveList(w, r)
	if !ok {
		return
	}
	if list.OwnerID != userID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not authorized"})
		return
	}

	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name is required"})
		return
	}

	renamed, err := h.listStore.Rename(list.ID, req.Name)
	if err != nil {
		h.logger.Error("rename list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to rename list"})
		return
	}

	writeJSON(w, http.StatusOK, renamed)
}

// Delete handles DELETE /api/lists/{list_id}. Owner only.
func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	list, ok := h.resolveList(w, r)
	if !ok {
		return
	}
	if list.OwnerID != userID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not authorized"})
		return
	}

	if err := h.listStore.Delete(list.ID); err != nil {
		h.logger.Error("delete list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete list"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Join handles POST /api/lists/{list_id}/join. Joining a list you already
// belong to is a no-op and sends no notification.
func (h *ListHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	username := auth.Username(r.Context())

	list, ok := h.resolveList(w, r)
	if !ok {
		return
	}
	if list.OwnerID == userID {
		writeJSON(w, http.StatusOK, list)
		return
	}

	added, err := h.listStore.AddMember(list.ID, userID)
	if err != nil {
		h.logger.Error("join list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to join list"})
		return
	}

	if added {
		h.hub.Broadcast(ws.NewMessage("list", "joined", list.PublicID, map[string]any{
			"username": username,
		}))
		h.notifier.Notify(push.Payload{
			Title:       fmt.Sprintf("%s - Join", list.Name),
			Description: fmt.Sprintf("%s joined %s", username, list.Name),
			URL:         "/" + list.PublicID,
		}, push.Meta{
			Topic:        model.TopicJoinList,
			ListID:       list.ID,
			OriginUserID: userID,
		})
	}

	writeJSON(w, http.StatusOK, list)
}

// resolveList looks up the list in the path. On failure it writes the error
// response and returns ok=false.
func (h *ListHandler) resolveList(w http.ResponseWriter, r *http.Request) (*model.List, bool) {
	publicID := r.PathValue("list_id")
	if publicID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "list_id is required"})
		return nil, false
	}
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
	return list, true
}
