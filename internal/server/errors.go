package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/chaterr"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps an error to its HTTP status by kind.
func statusFor(err error) int {
	switch chaterr.KindOf(err) {
	case chaterr.KindValidation:
		return http.StatusBadRequest
	case chaterr.KindNotFound:
		return http.StatusNotFound
	case chaterr.KindAccessDenied:
		return http.StatusForbidden
	case chaterr.KindConflict:
		return http.StatusConflict
	case chaterr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	name := "Internal"
	if code := chaterr.CodeOf(err); code != nil {
		name = code.Name()
	} else if status == http.StatusServiceUnavailable {
		name = chaterr.Unavailable.Name()
	}
	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("server: %s %s: %v", c.Request.Method, c.FullPath(), err)
		if chaterr.CodeOf(err) == nil {
			detail = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, errorBody{
		Error:     name,
		Detail:    detail,
		Retryable: chaterr.Retryable(err),
	})
}

func badRequest(c *gin.Context, format string, args ...any) {
	respondError(c, chaterr.InvalidArgument.With(format, args...))
}
