package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/fstopclub/fstop/internal/booking/domain"
	"github.com/fstopclub/fstop/internal/clock"
	"github.com/fstopclub/fstop/internal/observability/metrics"
	"github.com/fstopclub/fstop/internal/payment/domain"
	userdomain "github.com/fstopclub/fstop/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Users   userdomain.Repository
	Metrics *metrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	users   userdomain.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		users:   p.Users,
		metrics: p.Metrics,
	}
}

func (s *Service) ApplyEvent(ctx context.Context, envelope domain.Envelope, raw []byte) error {
	if !domain.KnownEventType(envelope.EventType) {
		return domain.ErrUnknownEventType
	}

	ledgerID := s.genID.Generate()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.InsertEvent(ctx, tx, &domain.WebhookEvent{
			ID:              ledgerID,
			ProviderEventID: envelope.ID,
			EventType:       envelope.EventType,
			CaptureID:       envelope.Resource.ID,
			Payload:         datatypes.JSON(raw),
			ReceivedAt:      s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrEventAlreadyProcessed
		}

		switch envelope.EventType {
		case domain.EventCaptureCompleted:
			err = s.applyCompleted(ctx, tx, envelope, raw)
		case domain.EventCaptureDenied:
			err = s.applyTerminal(ctx, tx, envelope, raw, domain.StatusFailed)
		case domain.EventCaptureReversed:
			err = s.applyTerminal(ctx, tx, envelope, raw, domain.StatusReversed)
		case domain.EventCaptureRefunded:
			err = s.applyTerminal(ctx, tx, envelope, raw, domain.StatusRefunded)
		}
		if err != nil {
			return err
		}

		// Marking inside the transaction keeps claim and completion
		// atomic: a rollback frees the ledger slot for the redelivery.
		return s.repo.MarkEventProcessed(ctx, tx, ledgerID, s.clock.Now().UTC())
	})
	if err != nil {
		return err
	}

	s.metrics.RecordPaymentEvent(ctx, envelope.EventType)
	return nil
}

// applyCompleted correlates a capture with its payment row, trying each
// key the checkout flow may have set, and records an orphan when none
// match.
func (s *Service) applyCompleted(ctx context.Context, tx *gorm.DB, envelope domain.Envelope, raw []byte) error {
	resource := envelope.Resource

	payment, err := s.repo.FindByCaptureID(ctx, tx, resource.ID)
	if err != nil {
		return err
	}
	if payment != nil && payment.Status == domain.StatusCompleted {
		// Same capture seen through a different provider event id.
		return nil
	}

	if payment == nil {
		if orderID := resource.OrderID(); orderID != "" {
			payment, err = s.repo.FindPendingByOrderID(ctx, tx, orderID)
			if err != nil {
				return err
			}
		}
	}
	if payment == nil {
		if eventID, userID, ok := parseCustomID(resource.CustomID); ok {
			payment, err = s.repo.FindPendingByEventUser(ctx, tx, eventID, userID)
			if err != nil {
				return err
			}
		}
	}

	if payment == nil {
		s.log.Warn("orphan capture, storing unlinked",
			zap.String("capture_id", resource.ID),
			zap.String("order_id", resource.OrderID()),
		)
		return s.repo.Insert(ctx, tx, s.newOrphan(envelope, raw, domain.StatusCompleted))
	}

	payment.CaptureID = resource.ID
	payment.Status = domain.StatusCompleted
	payment.PayerID = resource.Payer.PayerID
	payment.PayerEmail = resource.Payer.EmailAddress
	if cents, ok := parseAmountCents(resource.Amount.Value); ok {
		payment.AmountCents = cents
		payment.Currency = resource.Amount.CurrencyCode
	}
	payment.RawPayload = datatypes.JSON(raw)
	if err := s.repo.Update(ctx, tx, payment); err != nil {
		return err
	}

	// Linkage side effects are best effort: the capture itself is
	// recorded either way, and each target is individually idempotent.
	// A booking cancelled before its capture arrived keeps its
	// cancellation and gives up no further linkage: the payment outcome
	// is stamped but the seat stays released.
	confirmed := true
	if payment.BookingID != nil {
		moved, err := s.repo.UpdateBookingPayment(ctx, tx, *payment.BookingID, bookingdomain.StatusConfirmed, domain.StatusCompleted)
		if err != nil {
			s.log.Error("failed to confirm booking from capture",
				zap.String("booking_id", payment.BookingID.String()),
				zap.Error(err),
			)
		} else if !moved {
			confirmed = false
			s.log.Warn("capture for a booking no longer pending",
				zap.String("booking_id", payment.BookingID.String()),
				zap.String("capture_id", resource.ID),
			)
		}
	}
	if confirmed && payment.EventID != nil && payment.UserID != nil {
		if err := s.users.AppendEventBooked(ctx, tx, *payment.UserID, *payment.EventID); err != nil {
			s.log.Error("failed to record event on user profile",
				zap.String("user_id", payment.UserID.String()),
				zap.Error(err),
			)
		}
		if err := s.repo.EnsureAttendee(ctx, tx, *payment.EventID, *payment.UserID); err != nil {
			s.log.Error("failed to ensure attendee on event",
				zap.String("event_id", payment.EventID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// applyTerminal records a denied, reversed or refunded capture. The
// same status lands on the payment and the booking's payment_status.
// Seats are never restored here: a refund releases money, not the spot.
func (s *Service) applyTerminal(ctx context.Context, tx *gorm.DB, envelope domain.Envelope, raw []byte, status string) error {
	resource := envelope.Resource

	payment, err := s.repo.FindByCaptureID(ctx, tx, resource.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		if orderID := resource.OrderID(); orderID != "" {
			payment, err = s.repo.FindPendingByOrderID(ctx, tx, orderID)
			if err != nil {
				return err
			}
		}
	}
	if payment == nil {
		s.log.Warn("terminal event for unknown capture, storing unlinked",
			zap.String("capture_id", resource.ID),
			zap.String("event_type", envelope.EventType),
		)
		return s.repo.Insert(ctx, tx, s.newOrphan(envelope, raw, status))
	}

	if payment.CaptureID == "" {
		payment.CaptureID = resource.ID
	}
	payment.Status = status
	payment.RawPayload = datatypes.JSON(raw)
	if err := s.repo.Update(ctx, tx, payment); err != nil {
		return err
	}

	if payment.BookingID != nil {
		if _, err := s.repo.UpdateBookingPayment(ctx, tx, *payment.BookingID, "", status); err != nil {
			s.log.Error("failed to stamp payment status on booking",
				zap.String("booking_id", payment.BookingID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) RecordFailure(ctx context.Context, providerEventID, eventType, reason string, raw []byte) {
	failure := &domain.WebhookFailure{
		ID:              s.genID.Generate(),
		ProviderEventID: providerEventID,
		EventType:       eventType,
		Reason:          reason,
		Payload:         datatypes.JSON(raw),
		CreatedAt:       s.clock.Now().UTC(),
	}
	if err := s.repo.InsertFailure(ctx, s.db, failure); err != nil {
		s.log.Error("failed to dead-letter webhook envelope",
			zap.String("provider_event_id", providerEventID),
			zap.Error(err),
		)
	}
	s.metrics.RecordWebhookFailure(ctx, reason)
}

func (s *Service) newOrphan(envelope domain.Envelope, raw []byte, status string) *domain.Payment {
	now := s.clock.Now().UTC()
	payment := &domain.Payment{
		ID:         s.genID.Generate(),
		CaptureID:  envelope.Resource.ID,
		OrderID:    envelope.Resource.OrderID(),
		PayerID:    envelope.Resource.Payer.PayerID,
		PayerEmail: envelope.Resource.Payer.EmailAddress,
		Status:     status,
		RawPayload: datatypes.JSON(raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if cents, ok := parseAmountCents(envelope.Resource.Amount.Value); ok {
		payment.AmountCents = cents
		payment.Currency = envelope.Resource.Amount.CurrencyCode
	}
	return payment
}

// parseCustomID splits the "<event_id>|<user_id>" pair the checkout
// flow writes into the capture's custom field.
func parseCustomID(customID string) (snowflake.ID, snowflake.ID, bool) {
	parts := strings.Split(strings.TrimSpace(customID), "|")
	if len(parts) != 2 {
		return 0, 0, false
	}
	eventID, err := snowflake.ParseString(parts[0])
	if err != nil {
		return 0, 0, false
	}
	userID, err := snowflake.ParseString(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return eventID, userID, true
}

// parseAmountCents converts the provider's decimal string ("25.00")
// into cents without going through floats.
func parseAmountCents(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	whole, frac, _ := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	if frac == "" {
		return units * 100, true
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, false
	}
	if units < 0 {
		return units*100 - cents, true
	}
	return units*100 + cents, true
}
