package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/roadside-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithError sends an error response. Only AppError messages reach the
// client; anything else is reported as an internal error.
func RespondWithError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	status := StatusFor(code)

	message := "internal server error"
	if code != errors.ErrInternal {
		message = messageOf(err)
	}

	_ = c.Error(err)
	c.JSON(status, Response{
		Status:  "error",
		Message: message,
		Code:    codeName(code),
	})
}

// StatusFor maps an application error code to an HTTP status.
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrBadRequest:
		return http.StatusBadRequest
	case errors.ErrUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrForbidden:
		return http.StatusForbidden
	case errors.ErrPreconditionViolation:
		return http.StatusConflict
	case errors.ErrPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeName(code errors.ErrorCode) string {
	switch code {
	case errors.ErrNotFound:
		return "not_found"
	case errors.ErrBadRequest:
		return "bad_request"
	case errors.ErrUnauthorized:
		return "unauthorized"
	case errors.ErrForbidden:
		return "forbidden"
	case errors.ErrPreconditionViolation:
		return "precondition_violation"
	case errors.ErrPersistence:
		return "persistence_failure"
	default:
		return "internal"
	}
}

// messageOf returns the outermost AppError message without its wrapped cause,
// so storage details never leak into responses.
func messageOf(err error) string {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
