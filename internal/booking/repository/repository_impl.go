package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/booking/domain"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const bookingColumns = `id, event_id, user_id, status, payment_status,
	contact_name, contact_email, contact_phone, created_at, updated_at`

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE event_id = ? AND user_id = ? AND status <> ?
		 LIMIT 1`,
		eventID,
		userID,
		domain.StatusCancelled,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, booking *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (
			id, event_id, user_id, status, payment_status,
			contact_name, contact_email, contact_phone, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.EventID,
		booking.UserID,
		booking.Status,
		booking.PaymentStatus,
		booking.ContactName,
		booking.ContactEmail,
		booking.ContactPhone,
		booking.CreatedAt,
		booking.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM bookings WHERE id = ?`,
		id,
	).Error
}

const eventColumns = `id, title, type, event_date, event_time, location, description,
	spots, spots_left, attendees, status,
	member_price_cents, non_member_price_cents, created_at, updated_at`

func (r *repo) FindEventForUpdate(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*eventdomain.Event, error) {
	query := `SELECT ` + eventColumns + `
		 FROM events
		 WHERE id = ?
		 LIMIT 1`
	// sqlite has no row locks; its single-writer transactions already
	// serialize the reservation.
	if db.Dialector.Name() != "sqlite" {
		query += ` FOR UPDATE`
	}

	var item eventdomain.Event
	err := db.WithContext(ctx).Raw(query, eventID).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ApplyReservation(ctx context.Context, db *gorm.DB, event *eventdomain.Event) error {
	return db.WithContext(ctx).Exec(
		`UPDATE events
		 SET spots_left = ?, attendees = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		event.SpotsLeft,
		event.Attendees,
		event.ID,
	).Error
}

func (r *repo) ReserveSpotGuarded(ctx context.Context, db *gorm.DB, event *eventdomain.Event) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE events
		 SET spots_left = spots_left - 1, attendees = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND spots_left > 0`,
		event.Attendees,
		event.ID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPendingPayment(ctx context.Context, db *gorm.DB, payment *domain.PendingPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, order_id, capture_id, booking_id, event_id, user_id,
			amount_cents, currency, status, created_at, updated_at
		) VALUES (?, ?, '', ?, ?, ?, ?, ?, 'PENDING', ?, ?)`,
		payment.ID,
		payment.OrderID,
		payment.BookingID,
		payment.EventID,
		payment.UserID,
		payment.AmountCents,
		payment.Currency,
		payment.CreatedAt,
		payment.CreatedAt,
	).Error
}
