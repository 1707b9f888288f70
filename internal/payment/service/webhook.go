package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
	"github.com/stackforge/tenantry/internal/observability/metrics"
	"github.com/stackforge/tenantry/internal/payment/domain"
	"github.com/stackforge/tenantry/internal/payment/gateway"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
	"github.com/stackforge/tenantry/pkg/db"
)

// WebhookIngester authenticates, deduplicates and applies provider
// webhook events.
type WebhookIngester interface {
	Ingest(ctx context.Context, provider string, body []byte, signature string) error
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Node          *snowflake.Node
	Config        config.Config
	Registry      *gateway.Registry
	Subscriptions subscriptiondomain.Service
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Log           *zap.Logger
}

type webhookIngester struct {
	db            *gorm.DB
	node          *snowflake.Node
	cfg           config.Config
	registry      *gateway.Registry
	subscriptions subscriptiondomain.Service
	clock         clock.Clock
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func NewWebhookIngester(p Params) WebhookIngester {
	return &webhookIngester{
		db:            p.DB,
		node:          p.Node,
		cfg:           p.Config,
		registry:      p.Registry,
		subscriptions: p.Subscriptions,
		clock:         p.Clock,
		metrics:       p.Metrics,
		log:           p.Log.Named("payment.webhook"),
	}
}

func (s *webhookIngester) Ingest(ctx context.Context, provider string, body []byte, signature string) error {
	gw, err := s.registry.Get(provider)
	if err != nil {
		return err
	}

	// An unconfigured secret means webhooks cannot be authenticated.
	// Skipping keeps a misconfigured deploy from applying forged events.
	if gw.RequiresSignature() && s.cfg.PaymentWebhookSecret == "" {
		s.log.Warn("webhook secret not configured, event skipped",
			zap.String("provider", provider))
		s.metrics.ObservePaymentEvent(provider, "skipped")
		return nil
	}

	event, err := gw.VerifyWebhook(body, signature)
	if err != nil {
		s.metrics.ObservePaymentEvent(provider, "rejected")
		return err
	}

	row, recorded, err := s.recordEvent(ctx, provider, event, body)
	if err != nil {
		return err
	}
	if !recorded {
		// Same provider event id seen before. Providers redeliver; the
		// first delivery already did the work.
		s.log.Debug("replayed webhook event ignored",
			zap.String("provider", provider),
			zap.String("event_id", event.EventID))
		s.metrics.ObservePaymentEvent(provider, "replayed")
		return nil
	}

	if !event.Captured() {
		s.markProcessed(ctx, row, nil)
		s.metrics.ObservePaymentEvent(provider, "ignored")
		return nil
	}

	if _, err := s.subscriptions.VerifyWebhookCapture(ctx, provider, event.ProviderOrderID, event.ProviderPaymentID); err != nil {
		// Already-captured and unknown-order events are terminal for this
		// delivery; returning the error would only trigger redelivery.
		if errors.Is(err, subscriptiondomain.ErrPaymentNotFound) ||
			errors.Is(err, subscriptiondomain.ErrPaymentAlreadyCaptured) {
			s.log.Warn("webhook capture not applied",
				zap.String("provider", provider),
				zap.String("order_id", event.ProviderOrderID),
				zap.Error(err))
			s.markProcessed(ctx, row, err)
			s.metrics.ObservePaymentEvent(provider, "unmatched")
			return nil
		}
		s.markProcessed(ctx, row, err)
		return err
	}

	s.markProcessed(ctx, row, nil)
	s.metrics.ObservePaymentEvent(provider, "captured")
	return nil
}

// recordEvent inserts the dedup row. Returns false when the event was
// already recorded.
func (s *webhookIngester) recordEvent(ctx context.Context, provider string, event *domain.WebhookEvent, body []byte) (*domain.ProcessedEvent, bool, error) {
	row := domain.ProcessedEvent{
		ID:         s.node.Generate(),
		Provider:   provider,
		EventID:    event.EventID,
		Type:       event.Type,
		Payload:    datatypes.JSON(body),
		ReceivedAt: s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &row, true, nil
}

// markProcessed stamps the outcome on the event row. Best effort.
func (s *webhookIngester) markProcessed(ctx context.Context, row *domain.ProcessedEvent, processErr error) {
	now := s.clock.Now()
	updates := map[string]any{"processed_at": now}
	if processErr != nil {
		updates["process_error"] = processErr.Error()
	}
	if err := s.db.WithContext(ctx).
		Model(&domain.ProcessedEvent{}).
		Where("id = ?", row.ID).
		Updates(updates).Error; err != nil {
		s.log.Warn("failed to stamp webhook event", zap.Error(err))
	}
}
