package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/session"
)

// Context keys set by the session middleware
const (
	SessionKey  = "session"
	IdentityKey = "identity"
	UsernameKey = "username"
)

// HomePath is where callers with the wrong role are sent
const HomePath = "/"

// TokenParser resolves a session token to its session ID
type TokenParser interface {
	Parse(token string) (string, error)
}

// Session attaches the session named by the bearer token, if any. Requests
// without a valid token proceed anonymously.
func Session(tokens TokenParser, store session.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if ok {
			if sessionID, err := tokens.Parse(token); err == nil {
				c.Set(SessionKey, session.NewContext(store, sessionID))
			}
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// SessionFrom returns the request's session, if one was attached
func SessionFrom(c *gin.Context) (*session.Context, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	sc, ok := v.(*session.Context)
	return sc, ok
}

// IdentityFrom returns the identity resolved by RequireIdentity or RequireRole
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}

// RequireIdentity rejects anonymous requests with 401
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := resolveIdentity(c); !ok {
			return
		}
		c.Next()
	}
}

// RequireRole rejects anonymous requests with 401 and requests from other
// roles with 403 and a redirect home
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resolveIdentity(c)
		if !ok {
			return
		}
		if id.Role != role {
			Abort(c, http.StatusForbidden, domain.ErrCodeForbidden,
				"This page requires the "+string(role)+" role", HomePath)
			return
		}
		c.Next()
	}
}

// resolveIdentity aborts the request and reports false when there is no
// authenticated identity
func resolveIdentity(c *gin.Context) (domain.Identity, bool) {
	if id, ok := IdentityFrom(c); ok {
		return id, true
	}

	sc, ok := SessionFrom(c)
	if !ok {
		Abort(c, http.StatusUnauthorized, domain.ErrCodeAuthentication, "Not logged in", "")
		return domain.Identity{}, false
	}

	id, ok, err := sc.Identity(c.Request.Context())
	if err != nil {
		Abort(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Session storage unavailable", "")
		return domain.Identity{}, false
	}
	if !ok {
		Abort(c, http.StatusUnauthorized, domain.ErrCodeAuthentication, "Not logged in", "")
		return domain.Identity{}, false
	}

	c.Set(IdentityKey, id)
	c.Set(UsernameKey, id.Username)
	return id, true
}
