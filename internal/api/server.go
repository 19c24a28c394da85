package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/serroba/collab-core/internal/acl"
	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/lock"
	"github.com/serroba/collab-core/internal/presence"
	"github.com/serroba/collab-core/internal/session"
	"github.com/serroba/collab-core/internal/ws"
	"golang.org/x/time/rate"
)

// Server handles HTTP requests for the collaboration API.
type Server struct {
	registry  *session.Registry
	directory *presence.Directory
	locks     *lock.Manager
	recorder  *activity.Recorder
	hub       *ws.Hub
	permStore acl.Store
	perms     *acl.Checker
	identity  IdentityResolver
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	cursorRate     rate.Limit
	cursorBurst    int
	defaultLockTTL time.Duration
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Registry  *session.Registry
	Directory *presence.Directory
	Locks     *lock.Manager
	Recorder  *activity.Recorder
	Hub       *ws.Hub
	PermStore acl.Store
	Identity  IdentityResolver // Optional; defaults to HeaderIdentity
	Logger    *slog.Logger

	CursorRate     rate.Limit // Optional; 0 disables cursor throttling
	CursorBurst    int
	DefaultLockTTL time.Duration
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	identity := cfg.Identity
	if identity == nil {
		identity = HeaderIdentity{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		registry:       cfg.Registry,
		directory:      cfg.Directory,
		locks:          cfg.Locks,
		recorder:       cfg.Recorder,
		hub:            cfg.Hub,
		permStore:      cfg.PermStore,
		perms:          acl.NewChecker(cfg.PermStore),
		identity:       identity,
		logger:         logger,
		cursorRate:     cfg.CursorRate,
		cursorBurst:    cfg.CursorBurst,
		defaultLockTTL: cfg.DefaultLockTTL,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Origin checks belong to the fronting proxy.
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("GET /projects/{projectID}/activity",
		s.authMiddleware(http.HandlerFunc(s.handleActivity)))
	mux.Handle("GET /files/{fileID}/permissions",
		s.authMiddleware(http.HandlerFunc(s.handleListPermissions)))
	mux.Handle("POST /files/{fileID}/permissions",
		s.authMiddleware(http.HandlerFunc(s.handleGrantPermission)))

	mux.Handle("GET /ws", s.authMiddleware(http.HandlerFunc(s.handleWebSocket)))

	return mux
}
