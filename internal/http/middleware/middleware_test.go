package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"optiroute/internal/auth"
	"optiroute/internal/domain"

	"github.com/gin-gonic/gin"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", append(handlers, func(c *gin.Context) {
		s, _ := CurrentSubject(c)
		c.JSON(http.StatusOK, gin.H{"user": s.UserID, "rid": GetRequestID(c)})
	})...)
	return r
}

func TestRequestIDKeepsIncomingHeader(t *testing.T) {
	r := newEngine()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if len(w.Header().Get("X-Request-ID")) != 36 {
		t.Fatalf("expected generated uuid, got %q", w.Header().Get("X-Request-ID"))
	}
}

func TestRequireAuthAndRoles(t *testing.T) {
	jwt := auth.NewJWT("secret", time.Hour)
	staff, _ := jwt.Issue(domain.Subject{UserID: 2, Role: domain.RoleStaff})
	client, _ := jwt.Issue(domain.Subject{UserID: 1, Role: domain.RoleClient})

	r := newEngine(RequireAuth(jwt), RequireRoles(domain.RoleStaff, domain.RoleAdmin))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + staff, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"client role", "Bearer " + client, http.StatusForbidden},
		{"staff role", "Bearer " + staff, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, w.Code, w.Body.String())
		}
	}
}

func TestRequireRolesWithoutAuthIsUnauthorized(t *testing.T) {
	r := newEngine(RequireRoles(domain.RoleAdmin))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
