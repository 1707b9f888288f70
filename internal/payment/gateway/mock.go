package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/stackforge/tenantry/internal/payment/domain"
)

// mockGateway is the development gateway. Orders are numbered locally and
// no capture signature is issued or checked.
type mockGateway struct {
	seq atomic.Int64
}

// NewMock builds the signatureless development gateway.
func NewMock() domain.Gateway { return &mockGateway{} }

func (g *mockGateway) Provider() string        { return "mock" }
func (g *mockGateway) KeyID() string           { return "mock_key" }
func (g *mockGateway) RequiresSignature() bool { return false }

func (g *mockGateway) CreateOrder(_ context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	return &domain.Order{
		OrderID:     fmt.Sprintf("mock_order_%d", g.seq.Add(1)),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		KeyID:       g.KeyID(),
	}, nil
}

func (g *mockGateway) VerifySignature(_, _, _ string) error { return nil }

func (g *mockGateway) VerifyWebhook(body []byte, _ string) (*domain.WebhookEvent, error) {
	var payload struct {
		EventID           string `json:"event_id"`
		Event             string `json:"event"`
		ProviderOrderID   string `json:"order_id"`
		ProviderPaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWebhook, err)
	}
	if payload.EventID == "" {
		return nil, domain.ErrInvalidWebhook
	}
	return &domain.WebhookEvent{
		EventID:           payload.EventID,
		Type:              payload.Event,
		ProviderOrderID:   payload.ProviderOrderID,
		ProviderPaymentID: payload.ProviderPaymentID,
	}, nil
}
