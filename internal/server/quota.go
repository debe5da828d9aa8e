package server

import (
	"net/http"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetQuota(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	status, err := s.quotaSvc.Status(c.Request.Context(), user.ID, accountdomain.Identity(user))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
