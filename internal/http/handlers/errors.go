package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrimrv/backend/internal/apperr"
)

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidProfile, apperr.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindStaleWrite:
		return http.StatusConflict
	case apperr.KindTransientLedger:
		return http.StatusServiceUnavailable
	case apperr.KindLedgerRejected, apperr.KindRetryBudgetExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders an error as {"error": code, "reason": text}. Errors
// without a kind are reported as internal_error without details.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(statusForKind(appErr.Kind), gin.H{"error": string(appErr.Kind), "reason": appErr.Reason})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
