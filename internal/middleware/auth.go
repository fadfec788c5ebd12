package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-service/internal/identity"
	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/pkg/auth"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/httputil"
)

const (
	ContextOwner  = "owner"
	ContextClaims = "claims"
)

type AuthMiddleware struct {
	jwt      auth.JWTService
	resolver identity.Resolver
}

func NewAuthMiddleware(jwt auth.JWTService, resolver identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, resolver: resolver}
}

// Authenticate verifies the bearer token and stores the caller's owner in
// the context. Session tokens are resolved to the public session id that
// notifications are stored under.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("missing bearer token")))
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}
		c.Set(ContextClaims, claims)

		switch {
		case claims.UserID != "":
			c.Set(ContextOwner, model.UserOwner(claims.UserID))
		case claims.SessionID != "":
			publicID, err := m.resolver.PublicSessionID(c.Request.Context(), claims.SessionID)
			if err != nil {
				if errors.Is(err, &apperrors.AppError{Code: apperrors.ErrNotFound}) {
					err = apperrors.Unauthorized(err)
				}
				httputil.RespondWithError(c, err)
				return
			}
			c.Set(ContextOwner, model.SessionOwner(publicID))
		}
		c.Next()
	}
}

// RequireRole only lets tokens with the given role through.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := c.Get(ContextClaims)
		if cl, ok := claims.(*auth.Claims); !ok || cl.Role != role {
			httputil.RespondWithError(c, apperrors.NewForbidden("insufficient role"))
			return
		}
		c.Next()
	}
}

// CallerOwner returns the authenticated owner, or the zero Owner for
// tokens without one.
func CallerOwner(c *gin.Context) model.Owner {
	v, _ := c.Get(ContextOwner)
	owner, _ := v.(model.Owner)
	return owner
}
