package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/serviora/bookpay/internal/webhook/domain"
	"go.uber.org/zap"
)

// Stripe webhook payloads top out well below this.
const maxWebhookBody = 1 << 20

var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

func (s *Server) IngestWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	header, ok := signatureHeaders[provider]
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.Ingest(c.Request.Context(), provider, payload, c.GetHeader(header))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, webhookdomain.ErrEventIgnored):
		// Acknowledged so the provider stops redelivering event types we
		// do not consume.
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, webhookdomain.ErrSignatureInvalid):
		AbortWithError(c, err)
	default:
		// Once the signature checks out the delivery is acknowledged no
		// matter what happened downstream; the unprocessed event record
		// is picked up by the retry sweep.
		s.log.Error("webhook ingest failed", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
