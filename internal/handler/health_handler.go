// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/model"
	"acquisition-service/internal/service"
	"acquisition-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	acquisitionService *service.AcquisitionService
	websocketHandler   *WebSocketHandler
	config             *config.Config
	startTime          time.Time
	logger             *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(
	acquisitionService *service.AcquisitionService,
	websocketHandler *WebSocketHandler,
	config *config.Config,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		acquisitionService: acquisitionService,
		websocketHandler:   websocketHandler,
		config:             config,
		startTime:          time.Now(),
		logger:             utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health including the acquisition state
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.acquisitionService.Status()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	// A failed link is reported but does not make the service itself unhealthy
	acquisition := CheckResult{
		Status:  "healthy",
		Message: string(status.State),
		Data: map[string]interface{}{
			"selector":        status.Selector,
			"channels":        status.Channels,
			"records_decoded": status.RecordsDecoded,
			"decode_errors":   status.DecodeErrors,
		},
	}
	if status.State == model.ConnectionStateError {
		acquisition.Status = "degraded"
		acquisition.Message = status.Detail
	}
	health.Checks["acquisition"] = acquisition

	if h.websocketHandler != nil {
		stats := h.websocketHandler.GetConnectionStats()
		health.Checks["stream"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"clients":  stats.TotalConnections,
				"by_topic": stats.ByTopic,
			},
		}
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"state":     h.acquisitionService.Status().State,
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
