package server

import (
	"strings"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/gin-gonic/gin"
)

const contextUserKey = "auth_user"

// APIKeyRequired authenticates requests with an API key, either as
// `Authorization: Bearer <key>` or an `X-API-Key` header. The resolved user
// is stored on the gin context for handlers.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFromRequest(c)
		if key == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.directory.GetByAPIKey(c.Request.Context(), key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}

	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentUser(c *gin.Context) *accountdomain.User {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, ok := value.(*accountdomain.User)
	if !ok {
		return nil
	}
	return user
}
