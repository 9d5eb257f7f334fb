package server

import (
	"io"
	"net/http"

	paymentwebhook "github.com/fstopclub/fstop/internal/payment/webhook"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandlePaymentWebhook always acknowledges with 200 once the body is
// read: failures are dead-lettered inside Ingest, and a non-200 would
// only make the provider redeliver an envelope we cannot apply.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowWebhook(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("webhook rate limit check failed", zap.Error(err))
		} else if !allowed {
			// 429 is the one exception: the provider retries later and
			// nothing was dead-lettered.
			c.JSON(http.StatusTooManyRequests, gin.H{"status": "throttled"})
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.webhookSvc.Ingest(c.Request.Context(), c.GetHeader(paymentwebhook.SignatureHeader), body); err != nil {
		s.log.Warn("webhook envelope not applied", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
