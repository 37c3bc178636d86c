package handlers

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"optiroute/internal/domain"
	"optiroute/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

// BindJSONOrError ensures body is present and parsable, answering 400 otherwise.
func BindJSONOrError[T any](c *gin.Context, dst *T) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		RespondDomainError(c, domain.ValidationError{Msg: "request body is empty"})
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			RespondDomainError(c, domain.ValidationError{Msg: "request body is empty"})
			return false
		}
		RespondDomainError(c, domain.ValidationError{Msg: bindMessage(err), Err: err})
		return false
	}
	return true
}

func bindMessage(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return "property " + strings.TrimPrefix(msg, "json: unknown field ") + " should not exist"
	}
	return msg
}

// parseIDParam reads a positive numeric path parameter.
func parseIDParam(c *gin.Context, name string) (domain.ID, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		RespondDomainError(c, domain.ValidationError{Field: name, Msg: "must be a positive integer"})
		return 0, false
	}
	return domain.ID(id), true
}

func currentSubject(c *gin.Context) (domain.Subject, bool) {
	s, ok := middleware.CurrentSubject(c)
	if !ok || s.UserID <= 0 {
		RespondDomainError(c, domain.UnauthorizedError{})
		return domain.Subject{}, false
	}
	return s, true
}
