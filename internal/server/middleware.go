package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	"github.com/smallbiznis/disburse/internal/auditcontext"
	"github.com/smallbiznis/disburse/internal/secrets"
)

// CronAuthRequired gates scheduler-triggered endpoints with a shared bearer
// secret. A deployment without the secret refuses every trigger instead of
// running wide open.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(s.cfg.CronSecret) == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Cron secret not configured"})
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if !secrets.ConstantTimeEquals(token, s.cfg.CronSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeCron), "")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminAuthRequired gates operator endpoints with the static admin token.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(s.cfg.AdminToken) == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Admin token not configured"})
			return
		}

		token := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if !secrets.ConstantTimeEquals(token, s.cfg.AdminToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), "")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
