// internal/handler/acquisition_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"acquisition-service/internal/model"
	"acquisition-service/internal/service"
	"acquisition-service/internal/transport"
	"acquisition-service/internal/utils"
)

// AcquisitionHandler handles acquisition commands and snapshot queries
type AcquisitionHandler struct {
	acquisitionService *service.AcquisitionService
	listPorts          func() ([]transport.PortInfo, error)
	logger             *utils.ServiceLogger
}

// NewAcquisitionHandler creates a new acquisition handler
func NewAcquisitionHandler(acquisitionService *service.AcquisitionService, logger *zap.Logger) *AcquisitionHandler {
	return &AcquisitionHandler{
		acquisitionService: acquisitionService,
		listPorts:          transport.ListPorts,
		logger:             utils.NewServiceLogger(logger, "acquisition-handler"),
	}
}

// RegisterRoutes registers acquisition routes
func (h *AcquisitionHandler) RegisterRoutes(router *gin.RouterGroup) {
	acquisition := router.Group("/acquisition")
	{
		acquisition.POST("/connect", h.Connect)
		acquisition.POST("/disconnect", h.Disconnect)
		acquisition.POST("/reset", h.Reset)
		acquisition.GET("/status", h.GetStatus)
	}

	router.GET("/channels", h.ListChannels)
	router.GET("/channels/:channel_id", h.GetChannel)
	router.GET("/monitor", h.GetMonitor)
	router.GET("/ports", h.ListPorts)
}

// Connect opens a new acquisition session
// @Summary Connect
// @Description Open the selected transport and start acquiring. Any running session is stopped first.
// @Tags Acquisition
// @Accept json
// @Produce json
// @Param request body model.ConnectRequest true "Connect request"
// @Success 200 {object} utils.APIResponse{data=model.Status} "Connected"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 502 {object} utils.APIResponse "Transport could not be opened"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /acquisition/connect [post]
func (h *AcquisitionHandler) Connect(c *gin.Context) {
	var req model.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status, err := h.acquisitionService.Connect(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to connect",
			zap.String("selector", req.Selector),
			zap.Error(err),
		)
		utils.ErrorResponse(c, errorStatus(err), "Failed to connect", err)
		return
	}

	h.logger.Info("Acquisition connected", zap.String("selector", req.Selector))
	utils.SuccessResponse(c, http.StatusOK, "Connected", status)
}

// Disconnect stops the running session
// @Summary Disconnect
// @Description Stop acquiring. Collected history is kept. Disconnecting an idle service is a no-op.
// @Tags Acquisition
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Status} "Disconnected"
// @Router /acquisition/disconnect [post]
func (h *AcquisitionHandler) Disconnect(c *gin.Context) {
	status := h.acquisitionService.Disconnect()
	utils.SuccessResponse(c, http.StatusOK, "Disconnected", status)
}

// Reset clears the collected history
// @Summary Reset
// @Description Drop every channel and the monitor. A running session keeps acquiring.
// @Tags Acquisition
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Status} "History cleared"
// @Router /acquisition/reset [post]
func (h *AcquisitionHandler) Reset(c *gin.Context) {
	status := h.acquisitionService.Reset()
	utils.SuccessResponse(c, http.StatusOK, "History cleared", status)
}

// GetStatus returns the status feed
// @Summary Status
// @Tags Acquisition
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Status} "Status retrieved"
// @Router /acquisition/status [get]
func (h *AcquisitionHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Status retrieved", h.acquisitionService.Status())
}

// ListChannels returns every channel series
// @Summary Snapshot of all channels
// @Description Copy of every channel, oldest point first, in first-seen channel order
// @Tags Channels
// @Produce json
// @Param last query int false "Only the newest N points of each channel; whole history when absent"
// @Success 200 {object} utils.APIResponse{data=object{version=int,channels=[]model.Series}} "Channels retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid query"
// @Router /channels [get]
func (h *AcquisitionHandler) ListChannels(c *gin.Context) {
	last := 0 // whole history
	if raw := c.Query("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.ValidationErrorResponse(c, "last", "must be a positive integer")
			return
		}
		last = n
	}

	utils.SuccessResponse(c, http.StatusOK, "Channels retrieved", gin.H{
		"version":  h.acquisitionService.DataVersion(),
		"channels": h.acquisitionService.SeriesTail(last),
	})
}

// GetChannel returns one channel series
// @Summary Snapshot of one channel
// @Tags Channels
// @Produce json
// @Param channel_id path string true "Channel ID"
// @Success 200 {object} utils.APIResponse{data=model.Series} "Channel retrieved"
// @Failure 404 {object} utils.APIResponse "Unknown channel"
// @Router /channels/{channel_id} [get]
func (h *AcquisitionHandler) GetChannel(c *gin.Context) {
	id := model.ChannelID(c.Param("channel_id"))

	points, ok := h.acquisitionService.Snapshot(id)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Channel not found", nil)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Channel retrieved", model.Series{
		Channel: id,
		Points:  points,
	})
}

// GetMonitor returns the raw monitor lines
// @Summary Raw monitor
// @Description Most recent text records as received, oldest first
// @Tags Channels
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{lines=[]string}} "Monitor retrieved"
// @Router /monitor [get]
func (h *AcquisitionHandler) GetMonitor(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Monitor retrieved", gin.H{
		"lines": h.acquisitionService.MonitorLines(),
	})
}

// ListPorts lists the serial ports of the host
// @Summary Serial ports
// @Tags Ports
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]transport.PortInfo} "Ports retrieved"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /ports [get]
func (h *AcquisitionHandler) ListPorts(c *gin.Context) {
	ports, err := h.listPorts()
	if err != nil {
		utils.LogError(h.logger.Logger, "Failed to list ports", err, zap.String("path", c.FullPath()))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved", ports)
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case transport.IsConnectionError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
