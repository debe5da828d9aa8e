package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type corpStateRequest struct {
	CorpNum string `json:"corp_num" binding:"required"`
}

// CheckCorpState verifies a counterparty's business registration status with
// the provider. Each successful lookup is a billable status check.
func (s *Server) CheckCorpState(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req corpStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	state, err := s.issuanceSvc.CheckCorpState(c.Request.Context(), user.ID, req.CorpNum)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}
