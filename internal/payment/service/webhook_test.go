package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
	"github.com/stackforge/tenantry/internal/observability/metrics"
	"github.com/stackforge/tenantry/internal/payment/domain"
	"github.com/stackforge/tenantry/internal/payment/gateway"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
)

type captureCall struct {
	provider, orderID, paymentID string
}

type fakeSubscriptions struct {
	subscriptiondomain.Service

	calls      []captureCall
	captureErr error
}

func (f *fakeSubscriptions) VerifyWebhookCapture(_ context.Context, provider, orderID, paymentID string) (*subscriptiondomain.Subscription, error) {
	f.calls = append(f.calls, captureCall{provider, orderID, paymentID})
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &subscriptiondomain.Subscription{Status: subscriptiondomain.StatusActive}, nil
}

func newIngester(t *testing.T, subs *fakeSubscriptions, cfg config.Config) WebhookIngester {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.ProcessedEvent{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	return NewWebhookIngester(Params{
		DB:            db,
		Node:          node,
		Config:        cfg,
		Registry:      gateway.NewRegistry(gateway.NewMock()),
		Subscriptions: subs,
		Clock:         clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Metrics:       m,
		Log:           zap.NewNop(),
	})
}

func TestIngestCapturedEvent(t *testing.T) {
	subs := &fakeSubscriptions{}
	ing := newIngester(t, subs, config.Config{})

	body := []byte(`{"event_id":"evt_1","event":"payment.captured","order_id":"mock_order_1","payment_id":"pay_1"}`)
	require.NoError(t, ing.Ingest(context.Background(), "mock", body, ""))

	require.Len(t, subs.calls, 1)
	require.Equal(t, captureCall{"mock", "mock_order_1", "pay_1"}, subs.calls[0])
}

func TestIngestDeduplicatesByEventID(t *testing.T) {
	subs := &fakeSubscriptions{}
	ing := newIngester(t, subs, config.Config{})

	body := []byte(`{"event_id":"evt_1","event":"payment.captured","order_id":"mock_order_1","payment_id":"pay_1"}`)
	require.NoError(t, ing.Ingest(context.Background(), "mock", body, ""))
	require.NoError(t, ing.Ingest(context.Background(), "mock", body, ""))

	// Redelivery is acknowledged without reprocessing.
	require.Len(t, subs.calls, 1)
}

func TestIngestIgnoresNonCaptureEvents(t *testing.T) {
	subs := &fakeSubscriptions{}
	ing := newIngester(t, subs, config.Config{})

	body := []byte(`{"event_id":"evt_2","event":"payment.failed","order_id":"mock_order_1","payment_id":"pay_1"}`)
	require.NoError(t, ing.Ingest(context.Background(), "mock", body, ""))
	require.Empty(t, subs.calls)
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	subs := &fakeSubscriptions{}
	ing := newIngester(t, subs, config.Config{})

	err := ing.Ingest(context.Background(), "mock", []byte(`{"event":"payment.captured"}`), "")
	require.ErrorIs(t, err, domain.ErrInvalidWebhook)
	require.Empty(t, subs.calls)
}

func TestIngestUnknownProvider(t *testing.T) {
	subs := &fakeSubscriptions{}
	ing := newIngester(t, subs, config.Config{})

	err := ing.Ingest(context.Background(), "stripe", []byte(`{}`), "")
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestIngestSwallowsTerminalCaptureErrors(t *testing.T) {
	for _, terminal := range []error{
		subscriptiondomain.ErrPaymentNotFound,
		subscriptiondomain.ErrPaymentAlreadyCaptured,
	} {
		subs := &fakeSubscriptions{captureErr: terminal}
		ing := newIngester(t, subs, config.Config{})

		body := []byte(`{"event_id":"evt_3","event":"order.paid","order_id":"mock_order_9","payment_id":"pay_9"}`)
		require.NoError(t, ing.Ingest(context.Background(), "mock", body, ""))
	}
}

func TestIngestPropagatesTransientCaptureErrors(t *testing.T) {
	transient := errors.New("db down")
	subs := &fakeSubscriptions{captureErr: transient}
	ing := newIngester(t, subs, config.Config{})

	body := []byte(`{"event_id":"evt_4","event":"payment.captured","order_id":"mock_order_9","payment_id":"pay_9"}`)
	err := ing.Ingest(context.Background(), "mock", body, "")
	require.ErrorIs(t, err, transient)
}
