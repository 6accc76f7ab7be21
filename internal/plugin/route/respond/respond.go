// Package respond holds the helpers shared by the REST route plugins.
package respond

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleError maps a service error to its HTTP status and JSON body.
func HandleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var unauthenticated *security.AuthenticationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	case errors.As(err, &unauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": err.Error()})
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// BadRequest writes a 400 for a malformed request body.
func BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
}

// PathUUID parses a uuid path parameter. A malformed id is reported as a 404 for
// resource and ok is false.
func PathUUID(c *gin.Context, param, resource string) (id uuid.UUID, ok bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": resource + " not found"})
		return uuid.Nil, false
	}
	return id, true
}

// QueryPtr returns the query value for key, or nil when it is absent or empty.
func QueryPtr(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

// QueryInt returns the integer query value for key, or def when absent or malformed.
func QueryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}
