// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// APIResponse represents standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents error information
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var errorCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
	http.StatusBadGateway:          "BAD_GATEWAY",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

// newResponse stamps an envelope with the time and the request ID of c
func newResponse(c *gin.Context, success bool, message string) APIResponse {
	return APIResponse{
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
		RequestID: c.GetString(RequestIDKey),
	}
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := newResponse(c, true, message)
	response.Data = data
	c.JSON(statusCode, response)
}

// ErrorResponse sends an error response. err, when set, becomes the details.
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	response := newResponse(c, false, message)
	response.Error = &APIError{
		Code:    ErrorCode(statusCode),
		Message: message,
	}
	if err != nil {
		response.Error.Details = err.Error()
	}
	c.JSON(statusCode, response)
}

// ValidationErrorResponse sends a 400 naming the offending field
func ValidationErrorResponse(c *gin.Context, field, reason string) {
	response := newResponse(c, false, "Validation failed")
	response.Error = &APIError{
		Code:    "VALIDATION_ERROR",
		Message: "Request validation failed",
		Details: reason,
	}
	response.Data = gin.H{"field": field}
	c.JSON(http.StatusBadRequest, response)
}

// ErrorCode returns the envelope error code of an HTTP status
func ErrorCode(statusCode int) string {
	if code, ok := errorCodes[statusCode]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}
