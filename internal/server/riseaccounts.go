package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type linkRiseAccountRequest struct {
	AffiliateID string `json:"affiliate_id"`
	Email       string `json:"email"`
}

func (s *Server) LinkRiseAccount(c *gin.Context) {
	var body linkRiseAccountRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	affiliateID, err := snowflake.ParseString(strings.TrimSpace(body.AffiliateID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.riseSvc.Link(c.Request.Context(), affiliateID, body.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) GetRiseAccount(c *gin.Context) {
	affiliateID, err := snowflake.ParseString(strings.TrimSpace(c.Param("affiliate_id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.riseSvc.Get(c.Request.Context(), affiliateID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
