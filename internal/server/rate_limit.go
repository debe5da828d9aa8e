package server

import (
	"github.com/gin-gonic/gin"
)

// IssuanceRateLimit bounds per-user issuance traffic before the provider is
// contacted. A missing or disabled limiter lets everything through.
func (s *Server) IssuanceRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.limiter.Enabled() && !s.limiter.AllowIssuance(c.Request.Context(), user.ID) {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) CorpStateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.limiter.Enabled() && !s.limiter.AllowCorpState(c.Request.Context(), user.ID) {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
