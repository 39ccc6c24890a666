package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/harithzain/simlab/internal/common"
)

const SubjectKey = "auth_subject"

// IssueGuestToken mints a short-lived anonymous identity. Sessions are not
// tied to accounts; the token only gates API access.
func IssueGuestToken(secret string, ttl time.Duration) (string, string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	subject := "guest-" + uuid.NewString()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", err
	}
	return token, subject, nil
}

func parseBearer(c *gin.Context, secret string) (string, bool) {
	header := c.GetHeader("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return "", false
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", false
	}
	return claims.Subject, true
}

// Auth validates a bearer token when present and rejects missing or invalid
// tokens when required is set. Deployments without auth run with
// AUTH_REQUIRED=false and still get subjects attached when a token is sent.
func Auth(secret string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, valid := parseBearer(c, secret)
		if valid {
			c.Set(SubjectKey, subject)
		} else if required {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
