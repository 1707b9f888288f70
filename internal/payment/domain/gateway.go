// Package domain defines the payment gateway abstraction and webhook
// event records.
package domain

import (
	"context"
	"errors"
)

var (
	ErrProviderNotFound  = errors.New("payment_provider_not_found")
	ErrInvalidSignature  = errors.New("invalid_payment_signature")
	ErrInvalidWebhook    = errors.New("invalid_webhook_payload")
	ErrWebhookReplay     = errors.New("webhook_event_replayed")
	ErrWebhookUnverified = errors.New("webhook_signature_unverified")
)

// Order is a provider-side payment order the client completes against.
type Order struct {
	OrderID     string
	AmountCents int64
	Currency    string
	KeyID       string
}

// CreateOrderRequest carries what the provider needs to open an order.
type CreateOrderRequest struct {
	AmountCents int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Gateway is one payment provider integration.
type Gateway interface {
	Provider() string
	// KeyID is the publishable key the client SDK is initialized with.
	KeyID() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	// VerifySignature checks a client-supplied capture signature over
	// orderID and paymentID.
	VerifySignature(orderID, paymentID, signature string) error
	// RequiresSignature is false for test gateways that issue no
	// signatures.
	RequiresSignature() bool
	// VerifyWebhook authenticates a raw webhook body and returns the
	// parsed event. The signature comes from the provider's header.
	VerifyWebhook(body []byte, signature string) (*WebhookEvent, error)
}

// WebhookEvent is a provider notification in normalized form.
type WebhookEvent struct {
	EventID           string
	Type              string
	ProviderOrderID   string
	ProviderPaymentID string
}

// Captured reports whether the event signals a successful capture.
func (e *WebhookEvent) Captured() bool {
	switch e.Type {
	case "payment.captured", "order.paid":
		return true
	default:
		return false
	}
}
