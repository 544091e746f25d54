package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	"github.com/smallbiznis/disburse/internal/payout"
	providerdomain "github.com/smallbiznis/disburse/internal/provider/domain"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

// ErrorHandlingMiddleware turns domain sentinel errors attached to the gin
// context into consistent JSON responses.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	errType, errCode := classifyErrorForLog(err)
	switch errType {
	case "validation_error":
		return http.StatusBadRequest, errorPayload{Type: errCode, Message: errCode}
	case "not_found":
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: errCode}
	case "conflict":
		return http.StatusConflict, errorPayload{Type: "conflict", Message: errCode}
	case "service_unavailable":
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: errCode}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog buckets domain errors into a low-cardinality type plus
// the sentinel code. Shared by the error responder and the request logger.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, batchdomain.ErrInvalidProvider),
		errors.Is(err, batchdomain.ErrInvalidStatus),
		errors.Is(err, batchdomain.ErrNoPayableAffiliates),
		errors.Is(err, payout.ErrInvalidFee),
		errors.Is(err, payout.ErrNegativeAmount),
		errors.Is(err, risedomain.ErrInvalidEmail),
		errors.Is(err, risedomain.ErrInvalidKYCStatus),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidStatus):
		return "validation_error", err.Error()

	case errors.Is(err, ErrNotFound),
		errors.Is(err, batchdomain.ErrBatchNotFound),
		errors.Is(err, batchdomain.ErrTransactionNotFound),
		errors.Is(err, commissiondomain.ErrCommissionNotFound),
		errors.Is(err, risedomain.ErrAccountNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found", firstSentinel(err)

	case errors.Is(err, batchdomain.ErrBatchNotCancellable),
		errors.Is(err, batchdomain.ErrCommissionConflict),
		errors.Is(err, commissiondomain.ErrNotApprovable),
		errors.Is(err, risedomain.ErrAccountAlreadyLinked):
		return "conflict", firstSentinel(err)

	case errors.Is(err, batchdomain.ErrProviderUnavailable),
		errors.Is(err, providerdomain.ErrProviderUnavailable),
		errors.Is(err, providerdomain.ErrProviderNotFound):
		return "service_unavailable", firstSentinel(err)

	default:
		return "internal_error", "internal_error"
	}
}

// firstSentinel keeps responses to the sentinel code even when the error has
// wrapped context.
func firstSentinel(err error) string {
	sentinels := []error{
		batchdomain.ErrBatchNotFound,
		batchdomain.ErrTransactionNotFound,
		batchdomain.ErrBatchNotCancellable,
		batchdomain.ErrCommissionConflict,
		batchdomain.ErrProviderUnavailable,
		commissiondomain.ErrCommissionNotFound,
		commissiondomain.ErrNotApprovable,
		payout.ErrInvalidFee,
		payout.ErrNegativeAmount,
		risedomain.ErrAccountNotFound,
		risedomain.ErrAccountAlreadyLinked,
		providerdomain.ErrProviderUnavailable,
		providerdomain.ErrProviderNotFound,
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
