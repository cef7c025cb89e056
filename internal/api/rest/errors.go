package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/medledger/rx-ledger/internal/api/shared/errors"
	"github.com/medledger/rx-ledger/internal/logger"
)

// respondBadRequest responds with a bad request error
func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

// respondNotFound responds with a not found error
func respondNotFound(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusNotFound, apierrors.NewNotFoundError(message, details...))
}

// respondValidationError responds with a validation error
func respondValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, apierrors.NewValidationError(message))
}

// respondError maps a structured executor error onto the right HTTP status.
// Unknown errors are treated as internal and logged.
func respondError(c *gin.Context, err error, message string) {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		respondInternalError(c, err, message)
		return
	}

	switch apiErr.Code {
	case apierrors.ErrCodeBadRequest:
		c.JSON(http.StatusBadRequest, apiErr)
	case apierrors.ErrCodeValidationFailed:
		c.JSON(http.StatusUnprocessableEntity, apiErr)
	case apierrors.ErrCodeNotFound:
		c.JSON(http.StatusNotFound, apiErr)
	case apierrors.ErrCodeUnauthorized:
		c.JSON(http.StatusUnauthorized, apiErr)
	case apierrors.ErrCodeForbidden:
		c.JSON(http.StatusForbidden, apiErr)
	case apierrors.ErrCodeConflict:
		c.JSON(http.StatusConflict, apiErr)
	default:
		respondInternalError(c, err, message)
	}
}

// respondInternalError responds with an internal server error and logs it
func respondInternalError(c *gin.Context, err error, message string) {
	logger.Error(err, zap.String("path", c.Request.URL.Path))
	c.JSON(http.StatusInternalServerError, apierrors.NewInternalError(message))
}
