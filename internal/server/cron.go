package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunDisbursements triggers one automated disbursement cycle. Partial
// failures come back in the result body; the trigger itself still succeeds.
func (s *Server) RunDisbursements(c *gin.Context) {
	result, err := s.processor.ProcessAutomatedDisbursements(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": result.Success, "result": result})
}

// RunRiseSync refreshes provider account state for every linked affiliate.
func (s *Server) RunRiseSync(c *gin.Context) {
	result, err := s.processor.SyncRiseAccounts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": result.Success, "result": result})
}
