package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

const (
	AuthorizationHeaderKey  = "Authorization"
	AuthorizationTypeBearer = "Bearer"
	UserIDKey               = "userID"
	UserRoleKey             = "userRole"
	UsernameKey             = "username"
)

type AuthMiddleware struct {
	authService *service.AuthService
	log         zerolog.Logger
}

func NewAuthMiddleware(authService *service.AuthService, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{authService: authService, log: log.With().Str("component", "auth_middleware").Logger()}
}

// Authenticate validates the bearer token and loads the user it names.
// The role stored on the request is the current one, not the one in the token.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeaderKey)
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "MISSING_TOKEN", "authorization header is required")
			return
		}

		fields := strings.Fields(authHeader)
		if len(fields) != 2 || !strings.EqualFold(fields[0], AuthorizationTypeBearer) {
			abortWithError(c, http.StatusUnauthorized, "INVALID_TOKEN", "authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := m.authService.ValidateToken(fields[1])
		if err != nil {
			m.log.Debug().Err(err).Msg("token rejected")
			abortWithError(c, http.StatusUnauthorized, "INVALID_TOKEN", "token is invalid or expired")
			return
		}

		user, err := m.authService.CurrentUser(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				abortWithError(c, http.StatusUnauthorized, "USER_NOT_FOUND", "token subject no longer exists")
				return
			}
			_ = c.Error(err)
			abortWithError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserRoleKey, user.Role)
		c.Set(UsernameKey, user.Name)
		c.Next()
	}
}

// AuthorizeRole must run after Authenticate.
func (m *AuthMiddleware) AuthorizeRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(UserRoleKey)
		if userRole == "" {
			m.log.Error().Str("path", c.FullPath()).Msg("AuthorizeRole used without Authenticate")
			abortWithError(c, http.StatusForbidden, "FORBIDDEN", "access denied")
			return
		}

		for _, reqRole := range requiredRoles {
			if userRole == reqRole {
				c.Next()
				return
			}
		}
		m.log.Debug().Str("role", userRole).Strs("required", requiredRoles).Str("path", c.FullPath()).Msg("role not authorized")
		abortWithError(c, http.StatusForbidden, "FORBIDDEN", "access denied: insufficient permissions")
	}
}

// CurrentActor is the authenticated caller as a user-initiated actor.
func CurrentActor(c *gin.Context) domain.Actor {
	return domain.Actor{
		UserID: c.GetInt(UserIDKey),
		Role:   c.GetString(UserRoleKey),
		Source: domain.SourceUserAction,
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
