package middleware

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/convene/internal/auth"
	"github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/response"
)

const (
	CtxIdentityKey = "identity"
	CtxUserIDKey   = "userID"
)

// TokenVerifier resolves a bearer token into the calling identity.
type TokenVerifier interface {
	Verify(token string) (iauth.Identity, error)
}

// Auth rejects requests without a valid bearer token. Browser websocket clients may pass the
// token as the access_token query parameter instead of a header.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := iauth.TokenFromRequest(c.Request)
		if token == "" || verifier == nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.UserID)
		c.Next()
	}
}

// UserID returns the authenticated caller, or "" outside an Auth-protected route.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
