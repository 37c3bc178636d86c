package middleware

import (
	"net/http"

	"optiroute/internal/auth"
	"optiroute/internal/domain"
	"optiroute/internal/utils"

	"github.com/gin-gonic/gin"
)

// Context keys set by RequireAuth.
const (
	ContextUserID   = "userID"
	ContextUserRole = "userRole"
	contextSubject  = "subject"
)

// RequireAuth verifies the bearer token and stores the caller on the context.
func RequireAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := utils.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		subject, err := v.Verify(token)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		c.Set(ContextUserID, int64(subject.UserID))
		c.Set(ContextUserRole, string(subject.Role))
		c.Set(contextSubject, subject)
		c.Next()
	}
}

// CurrentSubject returns the caller stored by RequireAuth.
func CurrentSubject(c *gin.Context) (domain.Subject, bool) {
	v, ok := c.Get(contextSubject)
	if !ok {
		return domain.Subject{}, false
	}
	s, ok := v.(domain.Subject)
	return s, ok
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      message,
		"code":       code,
		"request_id": GetRequestID(c),
		"message":    message,
	})
}
