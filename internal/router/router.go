package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	accountHandler "github.com/kapixcr/BioNote/internal/handler/account"
	authHandler "github.com/kapixcr/BioNote/internal/handler/auth"
	clinicHandler "github.com/kapixcr/BioNote/internal/handler/clinic"
	"github.com/kapixcr/BioNote/internal/handler/health"
	passwordHandler "github.com/kapixcr/BioNote/internal/handler/password"
	metricsHandler "github.com/kapixcr/BioNote/internal/handler/prometheus"
	testrecordHandler "github.com/kapixcr/BioNote/internal/handler/testrecord"
	"github.com/kapixcr/BioNote/internal/middleware"
	"github.com/kapixcr/BioNote/internal/service/account"
	"github.com/kapixcr/BioNote/internal/service/auth"
	"github.com/kapixcr/BioNote/internal/service/clinic"
	"github.com/kapixcr/BioNote/internal/service/password"
	"github.com/kapixcr/BioNote/internal/service/testrecord"
	"github.com/kapixcr/BioNote/internal/storage"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/httputil"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Services are the application services the routes are served by.
type Services struct {
	Auth        *auth.Service
	Clinics     *clinic.Service
	Accounts    *account.Service
	TestRecords *testrecord.Service
	Passwords   *password.Service
}

type RouterConfig struct {
	CORSOrigins    []string
	RateLimit      bool
	RateRPS        float64
	RateBurst      int
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	authH    *authHandler.Handler
	clinicH  *clinicHandler.Handler
	accountH Handler
	recordH  Handler
	passH    Handler
	healthH  Handler
	metricsH Handler
	storage  *storage.Storage
	metrics  *metrics.Metrics
}

// NewRouter builds the engine with its middleware chain and mounts every route.
func NewRouter(
	svc Services,
	store *storage.Storage,
	checks map[string]health.Checker,
	registry *prometheus.Registry,
	m *metrics.Metrics,
	log *logger.Logger,
	config RouterConfig,
) *Router {
	engine := gin.New()
	engine.MaxMultipartMemory = 8 << 20

	r := &Router{
		engine:   engine,
		auth:     middleware.NewAuthMiddleware(svc.Auth),
		authH:    authHandler.NewHandler(svc.Auth),
		clinicH:  clinicHandler.NewHandler(svc.Clinics),
		accountH: accountHandler.NewHandler(svc.Accounts),
		recordH:  testrecordHandler.NewHandler(svc.TestRecords),
		passH:    passwordHandler.NewHandler(svc.Passwords),
		healthH:  health.NewHandler(checks),
		metricsH: metricsHandler.New(registry),
		storage:  store,
		metrics:  m,
	}

	// Add core middlewares
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(log),
		r.metricsMiddleware(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(middleware.DefaultCORSConfig(config.CORSOrigins...)),
	)

	if config.RateLimit {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   config.RateRPS,
			Burst: config.RateBurst,
		})
		engine.Use(limiter.RateLimit())
	}

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodyBytes > 0 {
		sizeLimit.MaxBodySize = config.MaxBodyBytes
	}
	engine.Use(
		middleware.SizeLimit(sizeLimit),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	r.setup()
	return r
}

func (r *Router) setup() {
	r.engine.NoRoute(func(c *gin.Context) {
		httputil.RespondWithError(c, errors.NotFound("route", nil))
	})

	r.healthH.RegisterRoutes(&r.engine.RouterGroup)
	r.metricsH.RegisterRoutes(&r.engine.RouterGroup)

	files := r.engine.Group("/storage", middleware.Cache(middleware.StorageCacheConfig()))
	files.StaticFS("", r.storage.HTTP())

	api := r.engine.Group("/api", middleware.Cache(middleware.APICacheConfig()))

	// Public routes
	r.authH.RegisterPublicRoutes(api)
	r.clinicH.RegisterPublicRoutes(api)
	r.passH.RegisterRoutes(api)

	// Protected routes
	protected := api.Group("", r.auth.Authenticate())
	r.authH.RegisterRoutes(protected)
	r.clinicH.RegisterRoutes(protected)
	r.recordH.RegisterRoutes(protected)

	admin := protected.Group("", r.auth.RequireAdmin())
	r.authH.RegisterAdminRoutes(admin)
	r.accountH.RegisterRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			kind := "client"
			if c.Writer.Status() >= 500 {
				kind = "server"
			}
			r.metrics.ErrorTotal.WithLabelValues(c.Request.Method, path, kind).Inc()
		}
	}
}
