package projection

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	httperr "github.com/vd-speed-test/speedroll/internal/core/errors"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/summaries", s.HandleSummaries)
	r.GET("/v1/hosts", s.HandleHosts)
	r.GET("/v1/summaries/cache", s.HandleCacheStats)
	r.DELETE("/v1/summaries/cache", s.HandleCacheInvalidate)
}

// HandleSummaries handles GET /v1/summaries
// Query parameters: mode, days|weeks|months|years, host, data_type, force_refresh
func (s *Service) HandleSummaries(c *gin.Context) {
	var query SummariesQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	summaries, result, err := s.Summaries(c.Request.Context(), query)
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) {
			errType := httperr.HttpInvalidRequestError
			if errors.Is(err, ErrInvalidMode) {
				errType = httperr.HttpInvalidModeError
			}
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: errType,
				Message:   "Invalid summary query",
				Details:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query summaries",
			Details:   err.Error(),
		})
		return
	}

	c.Header("X-Cache", strings.ToUpper(string(result)))
	c.JSON(http.StatusOK, summaries)
}

// HandleHosts handles GET /v1/hosts
func (s *Service) HandleHosts(c *gin.Context) {
	hosts, err := s.Hosts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStoreUnavailable,
			Message:   "Failed to list hosts",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": hosts})
}

func (s *Service) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.CacheStats())
}

func (s *Service) HandleCacheInvalidate(c *gin.Context) {
	s.InvalidateCache()
	c.Status(http.StatusNoContent)
}
