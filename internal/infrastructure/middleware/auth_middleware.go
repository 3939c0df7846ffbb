package middleware

import (
	"strings"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// AuthMiddleware requires a valid bearer token and resolves it to an identity.
// Failures are reported as one UNAUTHORIZED error; the cause is only logged.
func AuthMiddleware(tokens ports.TokenService, resolver ports.IdentityResolver, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authenticate(c, tokens, resolver)
		if err != nil {
			logger.Debugw("http authentication failed",
				"path", c.Request.URL.Path,
				"reason", err.Error(),
			)
			_ = c.Error(errors.FromDomain(err))
			c.Abort()
			return
		}

		bindIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuthMiddleware binds an identity when a valid token is present and
// lets the request through as anonymous otherwise. It never fails.
func OptionalAuthMiddleware(tokens ports.TokenService, resolver ports.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if subject, valid := tokens.SafeVerify(token); valid {
				if identity, err := resolver.Resolve(c.Request.Context(), subject); err == nil {
					bindIdentity(c, identity)
				}
			}
		}
		c.Next()
	}
}

func bindIdentity(c *gin.Context, identity *domain.Identity) {
	c.Set(identityKey, identity)
	c.Request = c.Request.WithContext(domain.ContextWithIdentity(c.Request.Context(), identity))
}

// RequireAuthority lets the request through when the bound identity holds at
// least one of the authorities. It must run after AuthMiddleware.
func RequireAuthority(authorities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			_ = c.Error(errors.NewUnauthorizedError("unauthenticated"))
			c.Abort()
			return
		}
		for _, authority := range authorities {
			if identity.HasAuthority(authority) {
				c.Next()
				return
			}
		}
		_ = c.Error(errors.NewForbiddenError("insufficient permissions"))
		c.Abort()
	}
}

// IdentityFrom returns the identity bound by AuthMiddleware.
func IdentityFrom(c *gin.Context) (*domain.Identity, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*domain.Identity)
	return identity, ok && identity != nil
}

func authenticate(c *gin.Context, tokens ports.TokenService, resolver ports.IdentityResolver) (*domain.Identity, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, domain.ErrUnauthenticated
	}

	token, ok := bearerToken(authHeader)
	if !ok {
		return nil, domain.ErrTokenMalformed
	}

	subject, err := tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(c.Request.Context(), subject)
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
