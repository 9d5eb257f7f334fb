package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/fstopclub/fstop/internal/config"
	"github.com/fstopclub/fstop/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrMalformedPayload = errors.New("malformed_webhook_payload")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	PaymentSvc domain.Service
}

type Service struct {
	log    *zap.Logger
	secret string
	svc    domain.Service
}

func NewService(p Params) *Service {
	return &Service{
		log:    p.Log.Named("payment.webhook"),
		secret: p.Cfg.WebhookSecret,
		svc:    p.PaymentSvc,
	}
}

// Ingest verifies, parses and applies one webhook delivery. Every
// failure is dead-lettered; the HTTP layer acknowledges the delivery
// regardless so the provider stops retrying.
func (s *Service) Ingest(ctx context.Context, signature string, body []byte) error {
	if !s.Verify(signature, body) {
		// Verification is blocking: an unverified envelope is recorded
		// but never applied.
		s.svc.RecordFailure(ctx, "", "", "signature_invalid", body)
		return ErrInvalidSignature
	}

	var envelope domain.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.svc.RecordFailure(ctx, "", "", "malformed_payload", body)
		return ErrMalformedPayload
	}

	err := s.svc.ApplyEvent(ctx, envelope, body)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrEventAlreadyProcessed):
		s.log.Debug("duplicate webhook delivery",
			zap.String("provider_event_id", envelope.ID),
		)
		return nil
	case errors.Is(err, domain.ErrUnknownEventType):
		s.svc.RecordFailure(ctx, envelope.ID, envelope.EventType, "unknown_event_type", body)
		return nil
	default:
		s.log.Error("failed to apply webhook event",
			zap.String("provider_event_id", envelope.ID),
			zap.Error(err),
		)
		s.svc.RecordFailure(ctx, envelope.ID, envelope.EventType, "apply_failed", body)
		return err
	}
}

// Verify checks the delivery signature. With no secret configured
// verification is skipped, which only makes sense in development.
func (s *Service) Verify(signature string, body []byte) bool {
	if s.secret == "" {
		return true
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}

// Sign computes the signature a caller would send. Used by tests and
// by the provider simulator in development.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
