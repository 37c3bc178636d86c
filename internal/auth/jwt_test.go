package auth

import (
	"testing"
	"time"

	"optiroute/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTIssueVerifyRoundTrip(t *testing.T) {
	j := NewJWT("secret", time.Hour)

	token, err := j.Issue(domain.Subject{UserID: 2, Role: "Staff"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := j.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub.UserID != 2 || sub.Role != domain.RoleStaff {
		t.Fatalf("unexpected subject %+v", sub)
	}
}

func TestJWTVerifyRejects(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	other := NewJWT("other-secret", time.Hour)

	foreign, _ := other.Issue(domain.Subject{UserID: 1, Role: domain.RoleClient})

	expired := NewJWT("secret", time.Minute)
	expired.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := expired.Issue(domain.Subject{UserID: 1, Role: domain.RoleClient})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Role: "admin"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin"})
	anonymous, _ := noSubject.SignedString([]byte("secret"))

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"foreign":    foreign,
		"expired":    stale,
		"alg none":   unsigned,
		"no user id": anonymous,
	} {
		if _, err := j.Verify(token); !domain.IsUnauthorized(err) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestJWTIssueRequiresSubject(t *testing.T) {
	if _, err := NewJWT("secret", 0).Issue(domain.Subject{}); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}
