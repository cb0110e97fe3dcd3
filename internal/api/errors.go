package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/labops/services/batch/internal/repository"
	"example.com/labops/services/batch/internal/service"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error represents an API error
type Error struct {
	Message    string
	StatusCode int
	Code       string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Common API errors
var (
	ErrInvalidRequest = &Error{Message: "Invalid request", StatusCode: http.StatusBadRequest, Code: "INVALID_REQUEST"}
	ErrNotFound       = &Error{Message: "Resource not found", StatusCode: http.StatusNotFound, Code: "NOT_FOUND"}
	ErrInternalServer = &Error{Message: "Internal server error", StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	ErrConflict       = &Error{Message: "Operation conflicts with resource state", StatusCode: http.StatusConflict, Code: "CONFLICT"}
)

// NewValidationError creates a new validation error with a custom message
func NewValidationError(message string) *Error {
	return &Error{
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
	}
}

// respondError maps service and repository errors onto API responses
func respondError(c *gin.Context, err error) {
	var apiError *Error
	if errors.As(err, &apiError) {
		c.JSON(apiError.StatusCode, ErrorResponse{Message: apiError.Message, Code: apiError.Code})
		return
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Resource not found", Code: "NOT_FOUND"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "INVALID_TRANSITION"})
	case errors.Is(err, service.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "INVALID_ACTION"})
	case errors.Is(err, service.ErrBatchArchived),
		errors.Is(err, service.ErrBatchHasTransactions),
		errors.Is(err, service.ErrNotRejectable):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "CONFLICT"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error", Code: "INTERNAL_ERROR"})
	}
}
