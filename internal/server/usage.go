package server

import (
	"net/http"
	"strings"

	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListUsage(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usagedomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = user.ID

	resp, err := s.usageSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetUsageSummary aggregates the caller's usage for one month, defaulting to
// the current month.
func (s *Server) GetUsageSummary(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	yearMonth := strings.TrimSpace(c.Query("year_month"))
	if yearMonth == "" {
		yearMonth = usagedomain.FormatYearMonth(s.clock.Now(c.Request.Context()))
	}

	summary, err := s.usageSvc.Summary(c.Request.Context(), user.ID, yearMonth)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
