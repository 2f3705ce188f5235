// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/handler"
	"acquisition-service/internal/metric"
	"acquisition-service/internal/middleware"
	"acquisition-service/internal/service"
	"acquisition-service/internal/utils"
)

const metricsPath = "/metrics"

// Router holds all dependencies for routing
type Router struct {
	config             *config.Config
	logger             *zap.Logger
	acquisitionService *service.AcquisitionService
	websocketHandler   *handler.WebSocketHandler
	registry           *prometheus.Registry
}

// NewRouter creates a new router instance. registry may be nil, in which
// case /metrics is not served.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	acquisitionService *service.AcquisitionService,
	websocketHandler *handler.WebSocketHandler,
	registry *prometheus.Registry,
) *Router {
	return &Router{
		config:             config,
		logger:             logger,
		acquisitionService: acquisitionService,
		websocketHandler:   websocketHandler,
		registry:           registry,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin engine
	router := gin.New()

	// Add middleware
	r.addMiddleware(router)

	// Add routes
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	// Recovery middleware
	router.Use(middleware.RecoveryMiddleware(r.logger))

	// Request ID middleware
	router.Use(middleware.RequestIDMiddleware())

	// Logging middleware, scrapes are not logged
	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, metricsPath))

	// CORS middleware
	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	// Create handlers
	healthHandler := handler.NewHealthHandler(r.acquisitionService, r.websocketHandler, r.config, r.logger)
	acquisitionHandler := handler.NewAcquisitionHandler(r.acquisitionService, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	acquisitionHandler.RegisterRoutes(router.Group("/api/v1"))

	// WebSocket routes
	if r.websocketHandler != nil {
		r.websocketHandler.RegisterRoutes(router.Group("/ws"))
	}

	// Prometheus scrape endpoint
	if r.registry != nil {
		router.GET(metricsPath, gin.WrapH(metric.Handler(r.registry)))
	}

	r.logger.Info("All routes configured successfully")
}
