package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-service/internal/handler/health"
	"github.com/jwalitptl/notification-service/internal/handler/notification"
	"github.com/jwalitptl/notification-service/internal/handler/prometheus"
	"github.com/jwalitptl/notification-service/internal/middleware"
	"github.com/jwalitptl/notification-service/pkg/auth"
)

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	notifications *notification.Handler
	health        *health.Handler
	metrics       *prometheus.Handler
	rateLimiter   *middleware.RateLimiter
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	notifications *notification.Handler,
	health *health.Handler,
	metrics *prometheus.Handler,
	config RouterConfig,
) *Router {
	middleware.RegisterValidators()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		metrics.Middleware(),
		middleware.ErrorHandler(),
	)

	r := &Router{
		engine:        engine,
		auth:          auth,
		notifications: notifications,
		health:        health,
		metrics:       metrics,
	}
	if config.RateLimitEnabled {
		r.rateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}
	return r
}

func (r *Router) Setup() {
	r.health.RegisterRoutes(r.engine)
	r.metrics.Register(r.engine)

	api := r.engine.Group("/api/v1")
	api.Use(r.auth.Authenticate())
	if r.rateLimiter != nil {
		api.Use(r.rateLimiter.RateLimit())
	}
	r.notifications.RegisterRoutes(api)

	internal := api.Group("/internal")
	internal.Use(r.auth.RequireRole(auth.RoleService))
	r.notifications.RegisterInternalRoutes(internal)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
