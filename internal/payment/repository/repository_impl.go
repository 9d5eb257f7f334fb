package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/fstopclub/fstop/internal/booking/domain"
	"github.com/fstopclub/fstop/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhook_events (
			id, provider_event_id, event_type, capture_id, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		event.ID,
		event.ProviderEventID,
		event.EventType,
		event.CaptureID,
		event.Payload,
		event.ReceivedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events SET processed_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}

const paymentColumns = `id, capture_id, order_id, booking_id, event_id, user_id,
	payer_id, payer_email, amount_cents, currency, status, raw_payload,
	created_at, updated_at`

func (r *repo) FindByCaptureID(ctx context.Context, db *gorm.DB, captureID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE capture_id = ?
		 LIMIT 1`,
		captureID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPendingByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		orderID,
		domain.StatusPending,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPendingByEventUser(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE event_id = ? AND user_id = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		eventID,
		userID,
		domain.StatusPending,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, capture_id, order_id, booking_id, event_id, user_id,
			payer_id, payer_email, amount_cents, currency, status, raw_payload,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.CaptureID,
		payment.OrderID,
		payment.BookingID,
		payment.EventID,
		payment.UserID,
		payment.PayerID,
		payment.PayerEmail,
		payment.AmountCents,
		payment.Currency,
		payment.Status,
		payment.RawPayload,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET capture_id = ?, status = ?, payer_id = ?, payer_email = ?,
		     amount_cents = ?, currency = ?, raw_payload = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		payment.CaptureID,
		payment.Status,
		payment.PayerID,
		payment.PayerEmail,
		payment.AmountCents,
		payment.Currency,
		payment.RawPayload,
		payment.ID,
	).Error
}

func (r *repo) UpdateBookingPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, bookingStatus, paymentStatus string) (bool, error) {
	if bookingStatus != "" {
		// Only a payment-pending booking may change status here. A row
		// cancelled before its capture arrived keeps its status and just
		// records the payment outcome below.
		res := db.WithContext(ctx).Exec(
			`UPDATE bookings
			 SET status = ?, payment_status = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			bookingStatus,
			paymentStatus,
			bookingID,
			bookingdomain.StatusPaymentPending,
		)
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected > 0 {
			return true, nil
		}
	}
	err := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET payment_status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		paymentStatus,
		bookingID,
	).Error
	return false, err
}

func (r *repo) EnsureAttendee(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) error {
	var event struct {
		ID        snowflake.ID
		SpotsLeft int
		Attendees datatypes.JSONSlice[string]
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, spots_left, attendees FROM events WHERE id = ? LIMIT 1`,
		eventID,
	).Scan(&event).Error
	if err != nil {
		return err
	}
	if event.ID == 0 {
		return nil
	}

	want := userID.String()
	for _, id := range event.Attendees {
		if id == want {
			// Seat already reserved at booking time; nothing to do.
			return nil
		}
	}
	event.Attendees = append(event.Attendees, want)

	if event.SpotsLeft > 0 {
		return db.WithContext(ctx).Exec(
			`UPDATE events
			 SET attendees = ?, spots_left = spots_left - 1, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND spots_left > 0`,
			event.Attendees,
			eventID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE events
		 SET attendees = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		event.Attendees,
		eventID,
	).Error
}

func (r *repo) InsertFailure(ctx context.Context, db *gorm.DB, failure *domain.WebhookFailure) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_failures (
			id, provider_event_id, event_type, reason, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		failure.ID,
		failure.ProviderEventID,
		failure.EventType,
		failure.Reason,
		failure.Payload,
		failure.CreatedAt,
	).Error
}
