package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth guards the ops API with a static bearer token. An empty token
// disables the check (local development); otherwise requests must send
// "Authorization: Bearer <token>". Tokens are compared in constant time on
// their SHA-256 digests so length differences leak nothing.
//
// On success the operator label "ops" is stored in the Gin context, which
// the rate limiter and access logger pick up.
func BearerAuth(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := sha256.Sum256([]byte(token))

	return func(c *gin.Context) {
		got, ok := bearerToken(c.GetHeader("Authorization"))
		if ok {
			sum := sha256.Sum256([]byte(got))
			ok = subtle.ConstantTimeCompare(sum[:], want[:]) == 1
		}
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="ops"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "unauthorized",
				"message":    "missing or invalid bearer token",
			})
			return
		}
		c.Set(operatorKey, "ops")
		c.Next()
	}
}

// bearerToken extracts the credentials of a "Bearer" Authorization header.
func bearerToken(h string) (string, bool) {
	scheme, cred, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}
