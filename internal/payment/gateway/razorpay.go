// Package gateway holds the concrete payment provider integrations.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/stackforge/tenantry/internal/payment/domain"
)

// razorpayGateway implements the order-plus-signature flow used by
// Razorpay-style gateways. The capture signature is
// HMAC-SHA256(orderID + "|" + paymentID) under the key secret; webhook
// bodies are signed whole under the webhook secret.
type razorpayGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
}

// NewRazorpay builds the production gateway.
func NewRazorpay(keyID, keySecret, webhookSecret string) domain.Gateway {
	return &razorpayGateway{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

func (g *razorpayGateway) Provider() string        { return "razorpay" }
func (g *razorpayGateway) KeyID() string           { return g.keyID }
func (g *razorpayGateway) RequiresSignature() bool { return true }

func (g *razorpayGateway) CreateOrder(_ context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	// Orders are identified locally; the provider echoes the id back in
	// capture callbacks.
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return &domain.Order{
		OrderID:     "order_" + hex.EncodeToString(buf[:]),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		KeyID:       g.keyID,
	}, nil
}

func (g *razorpayGateway) VerifySignature(orderID, paymentID, signature string) error {
	expected := hmacHex(g.keySecret, orderID+"|"+paymentID)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (g *razorpayGateway) VerifyWebhook(body []byte, signature string) (*domain.WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, domain.ErrWebhookUnverified
	}
	expected := hmacHex(g.webhookSecret, string(body))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, domain.ErrInvalidSignature
	}

	var payload struct {
		EventID string `json:"event_id"`
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string `json:"id"`
					OrderID string `json:"order_id"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWebhook, err)
	}
	if payload.EventID == "" || payload.Event == "" {
		return nil, domain.ErrInvalidWebhook
	}

	return &domain.WebhookEvent{
		EventID:           payload.EventID,
		Type:              payload.Event,
		ProviderOrderID:   payload.Payload.Payment.Entity.OrderID,
		ProviderPaymentID: payload.Payload.Payment.Entity.ID,
	}, nil
}

func hmacHex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
