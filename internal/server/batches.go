package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
)

type previewBatchRequest struct {
	AffiliateIDs []string `json:"affiliate_ids"`
	FeePercent   *string  `json:"fee_percent"`
}

type createBatchRequest struct {
	AffiliateIDs []string `json:"affiliate_ids"`
	Provider     string   `json:"provider"`
	CreatedBy    *string  `json:"created_by"`
}

func (s *Server) PreviewBatch(c *gin.Context) {
	var body previewBatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	affiliateIDs, ok := parseSnowflakeIDs(body.AffiliateIDs)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var feePercent *decimal.Decimal
	if body.FeePercent != nil {
		parsed, err := decimal.NewFromString(strings.TrimSpace(*body.FeePercent))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		feePercent = &parsed
	}

	resp, err := s.batchSvc.Preview(c.Request.Context(), batchdomain.PreviewRequest{
		AffiliateIDs: affiliateIDs,
		FeePercent:   feePercent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateBatch(c *gin.Context) {
	var body createBatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	affiliateIDs, ok := parseSnowflakeIDs(body.AffiliateIDs)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var createdBy *snowflake.ID
	if body.CreatedBy != nil {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*body.CreatedBy))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		createdBy = &parsed
	}

	detail, err := s.batchSvc.CreateBatch(c.Request.Context(), batchdomain.CreateBatchRequest{
		AffiliateIDs: affiliateIDs,
		Provider:     body.Provider,
		CreatedBy:    createdBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (s *Server) ListBatches(c *gin.Context) {
	status := batchdomain.BatchStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && !batchdomain.ValidStatus(status) {
		AbortWithError(c, batchdomain.ErrInvalidStatus)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 250 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	batches, err := s.batchSvc.ListBatches(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batches})
}

func (s *Server) GetBatchByID(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	detail, err := s.batchSvc.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) BatchStatistics(c *gin.Context) {
	stats, err := s.batchSvc.Statistics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) CancelBatch(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	batch, err := s.batchSvc.CancelBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func parseSnowflakeIDs(values []string) ([]snowflake.ID, bool) {
	if len(values) == 0 {
		return nil, true
	}
	ids := make([]snowflake.ID, 0, len(values))
	for _, value := range values {
		parsed, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil {
			return nil, false
		}
		ids = append(ids, parsed)
	}
	return ids, true
}
