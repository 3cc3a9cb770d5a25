package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope. Failures always carry
// Success=false and a Message.
type Body struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// OKMessage sends a 200 JSON response with a message and optional data.
func OKMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Message: message, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Error sends a failure envelope with the given status and aborts the chain.
func Error(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Message: message, RequestID: c.GetString(RequestIDKey)})
}

// BadRequest sends 400.
func BadRequest(c *gin.Context, message string) { Error(c, http.StatusBadRequest, message) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, message string) { Error(c, http.StatusUnauthorized, message) }

// Forbidden sends 403.
func Forbidden(c *gin.Context, message string) { Error(c, http.StatusForbidden, message) }

// TooManyRequests sends 429.
func TooManyRequests(c *gin.Context, message string) { Error(c, http.StatusTooManyRequests, message) }

// Internal sends 500.
func Internal(c *gin.Context, message string) { Error(c, http.StatusInternalServerError, message) }

// RequestIDKey is the gin context key holding the request correlation id.
const RequestIDKey = "request_id"
