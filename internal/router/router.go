package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/roadside-api/internal/handler/notification"
	"github.com/jwalitptl/roadside-api/internal/handler/prometheus"
	"github.com/jwalitptl/roadside-api/internal/handler/realtime"
	"github.com/jwalitptl/roadside-api/internal/middleware"
	"github.com/jwalitptl/roadside-api/internal/model"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	healthH       Handler
	requestH      Handler
	notificationH *notification.Handler
	realtimeH     *realtime.Handler
	metrics       *prometheus.Handler
}

type RouterConfig struct {
	// RateLimit of zero disables rate limiting.
	RateLimit    rate.Limit
	RateBurst    int
	CORSConfig   middleware.CORSConfig
	MaxBodyBytes int64
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH Handler,
	requestH Handler,
	notificationH *notification.Handler,
	realtimeH *realtime.Handler,
	metrics *prometheus.Handler,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:        engine,
		auth:          auth,
		healthH:       healthH,
		requestH:      requestH,
		notificationH: notificationH,
		realtimeH:     realtimeH,
		metrics:       metrics,
	}

	// Add core middlewares
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		metrics.Middleware(),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}
	if config.MaxBodyBytes > 0 {
		engine.Use(middleware.SizeLimit(config.MaxBodyBytes))
	}

	return r
}

func (r *Router) Setup() {
	r.engine.GET("/metrics", r.metrics.Handler())
	r.realtimeH.RegisterRoutes(r.engine)

	api := r.engine.Group("/api/v1")

	// Health check endpoints
	r.healthH.RegisterRoutes(api)

	// Catch-up routes authorize through the gateway
	r.notificationH.RegisterRoutes(api)

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.requestH.RegisterRoutes(protected)

	admin := protected.Group("")
	admin.Use(r.auth.RequireRole(model.RoleAdmin))
	r.notificationH.RegisterAdminRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
