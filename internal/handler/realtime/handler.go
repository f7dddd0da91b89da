package realtime

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/roadside-api/internal/realtime"
	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/logger"
)

// Handler upgrades GET /ws. The connection joins a room once the client
// sends a join frame; until then it receives nothing.
type Handler struct {
	// ctx ends every connection when the server shuts down.
	ctx      context.Context
	upgrader websocket.Upgrader
	registry *realtime.Registry
	auth     auth.Authenticator
	cfg      realtime.Config
	logger   *logger.Logger
}

func NewHandler(ctx context.Context, registry *realtime.Registry, authenticator auth.Authenticator, cfg realtime.Config, allowedOrigins []string, log *logger.Logger) *Handler {
	return &Handler{
		ctx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		registry: registry,
		auth:     authenticator,
		cfg:      cfg,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Serve)
}

func (h *Handler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err.Error())
		return
	}

	client := realtime.NewClient(ws, h.registry, h.auth, h.cfg, h.logger)
	client.Serve(h.ctx)
}

// originChecker allows everything for an empty list or "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
