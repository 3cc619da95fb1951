package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rbrewer/listshare/internal/handler"
	"github.com/rbrewer/listshare/internal/middleware"
	"github.com/rbrewer/listshare/internal/push"
	"github.com/rbrewer/listshare/internal/store"
	ws "github.com/rbrewer/listshare/internal/websocket"
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	listH        *handler.ListHandler
	itemH        *handler.ItemHandler
	pushH        *handler.PushHandler
	sessionStore *store.SessionStore
	userStore    *store.UserStore
	rateLimiter  *middleware.RateLimiter
	pushService  *push.Service
	logger       *slog.Logger
}

func New(db *sql.DB, pushCfg push.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	listStore := store.NewListStore(db)
	itemStore := store.NewItemStore(db)
	pushStore := store.NewPushStore(db)

	// Push notifications are optional; without VAPID keys the dispatcher is
	// nil and the bridge becomes a no-op.
	var pushSvc *push.Service
	var dispatcher *push.Dispatcher
	var pushH *handler.PushHandler
	if pushCfg.VAPIDPublicKey != "" && pushCfg.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(pushCfg.VAPIDPublicKey, pushCfg.VAPIDPrivateKey)
		dispatcher = push.NewDispatcher(pushStore, pushSvc, logger.With("component", "push"))
		pushH = handler.NewPushHandler(pushStore, listStore, pushSvc, logger.With("component", "push_handler"))
	}
	notifier := handler.NewNotifier(dispatcher, logger.With("component", "notifier"))

	return &Server{
		db:           db,
		hub:          hub,
		authH:        handler.NewAuthHandler(userStore, sessionStore, logger.With("component", "auth")),
		listH:        handler.NewListHandler(listStore, itemStore, pushStore, notifier, hub, logger.With("component", "list")),
		itemH:        handler.NewItemHandler(listStore, itemStore, notifier, hub, logger.With("component", "item")),
		pushH:        pushH,
		sessionStore: sessionStore,
		userStore:    userStore,
		rateLimiter:  middleware.NewRateLimiter(),
		pushService:  pushSvc,
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/signup", s.rateLimitedHandler(s.authH.Signup))
	outerMux.HandleFunc("POST /api/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/logout", s.authH.Logout)

	// List API routes
	mux.HandleFunc("POST /api/lists", s.listH.Create)
	mux.HandleFunc("GET /api/lists", s.listH.List)
	mux.HandleFunc("GET /api/lists/{list_id}", s.listH.Get)
	mux.HandleFunc("PUT /api/lists/{list_id}", s.listH.Rename)
	mux.HandleFunc("DELETE /api/lists/{list_id}", s.listH.Delete)
	mux.HandleFunc("POST /api/lists/{list_id}/join", s.listH.Join)

	// Item API routes
	mux.HandleFunc("POST /api/lists/{list_id}/items", s.itemH.Create)
	mux.HandleFunc("PUT /api/lists/{list_id}/items/{id}", s.itemH.Rename)
	mux.HandleFunc("DELETE /api/lists/{list_id}/items/{id}", s.itemH.Delete)
	mux.HandleFunc("POST /api/lists/{list_id}/items/{id}/toggle", s.itemH.ToggleDone)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("GET /api/push/topics", s.pushH.GetTopics)
		mux.HandleFunc("PUT /api/push/topics/{topic}", s.pushH.SetTopic)
		mux.HandleFunc("DELETE /api/push/topics", s.pushH.ClearTopics)
		mux.HandleFunc("PUT /api/lists/{list_id}/notifications", s.pushH.SetListNotifications)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// WebSocket endpoint for live list updates
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}
