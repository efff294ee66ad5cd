package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"voicecampaign-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventProcessor consumes normalized completion events.
// Implementations must be idempotent: the provider delivers at least once.
type EventProcessor interface {
	ProcessCallEvent(ctx context.Context, ev NormalizedCallEvent) error
}

// WebhookHandler authenticates, normalizes, and forwards provider webhooks.
//
// No business logic here. Signature and freshness checks run before any state
// mutation; unknown event types are acknowledged and dropped.
type WebhookHandler struct {
	ProviderName string
	Secret       string
	Tolerance    time.Duration

	Processor EventProcessor

	Now func() time.Time
}

func (h WebhookHandler) HandleCallEvent(c *gin.Context) {
	log := logger.FromGin(c)

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	if h.Processor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event processor not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	sig := c.GetHeader(HeaderSignature)
	ts := c.GetHeader(HeaderTimestamp)
	if err := VerifySignature(h.Secret, body, sig, ts, now(), h.Tolerance); err != nil {
		if errors.Is(err, ErrStaleTimestamp) {
			log.Warn("webhook timestamp rejected", "provider", h.ProviderName, "timestamp", ts)
		} else {
			log.Warn("webhook signature rejected", "provider", h.ProviderName)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ev, relevant, err := Normalize(h.ProviderName, body)
	if err != nil {
		log.Warn("webhook parse failed", "provider", h.ProviderName, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if !relevant {
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	if err := h.Processor.ProcessCallEvent(c.Request.Context(), ev); err != nil {
		// A 5xx makes the provider redeliver; processing is idempotent.
		log.Error("webhook processing failed", "provider", h.ProviderName, "call_id", ev.ExternalID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
