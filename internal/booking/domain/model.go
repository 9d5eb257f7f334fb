package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"gorm.io/gorm"
)

const (
	StatusConfirmed      = "confirmed"
	StatusCancelled      = "cancelled"
	StatusPaymentPending = "payment-pending"
)

// Booking is a user's reservation against an event. Contact info is a
// snapshot taken at booking time; later profile edits do not rewrite it.
type Booking struct {
	ID      snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID snowflake.ID `json:"event_id" gorm:"not null;index"`
	UserID  snowflake.ID `json:"user_id" gorm:"not null;index"`
	Status  string       `json:"status" gorm:"type:text;not null"`

	// PaymentStatus mirrors the provider's last reported state
	// (COMPLETED, FAILED, REFUNDED, REVERSED). Empty for free events.
	PaymentStatus string `json:"payment_status" gorm:"type:text"`

	ContactName  string `json:"contact_name" gorm:"type:text"`
	ContactEmail string `json:"contact_email" gorm:"type:text"`
	ContactPhone string `json:"contact_phone" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (b *Booking) Active() bool {
	return b.Status != StatusCancelled
}

// Bookability is the outcome of a read-only eligibility check.
type Bookability struct {
	Bookable bool   `json:"bookable"`
	Reason   string `json:"reason,omitempty"`
}

type BookRequest struct {
	UserID       snowflake.ID `json:"user_id"`
	ContactName  string       `json:"contact_name"`
	ContactEmail string       `json:"contact_email"`
	ContactPhone string       `json:"contact_phone"`

	// PayOnline reserves the spot as payment-pending; the payment
	// reconciler confirms the booking once the provider reports the
	// capture.
	PayOnline bool `json:"pay_online"`
}

// BookResult is the user-facing outcome of Book. Business rejections
// (full event, closed booking) land here, not in an error.
type BookResult struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	BookingID snowflake.ID `json:"booking_id,omitempty"`

	// OrderID correlates the provider checkout with this booking for
	// payment-pending reservations.
	OrderID string `json:"order_id,omitempty"`
}

// User-facing messages. The UI renders these verbatim.
const (
	MsgNoSpotsLeft    = "No spots left"
	MsgBookingClosed  = "Booking closed"
	MsgEventNotFound  = "Event not found"
	MsgScheduleBroken = "Event schedule unavailable"
	MsgAlreadyBooked  = "You have already booked this event"
	MsgDetailsNeeded  = "Personal details required before booking"
	MsgConfirmed      = "Booking confirmed"
	MsgAwaitsPayment  = "Spot reserved, awaiting payment"
)

type Service interface {
	// Bookable is side-effect free and fails closed: a missing event, a
	// full event, a past event or an unparsable schedule all come back
	// not bookable with a reason.
	Bookable(ctx context.Context, eventID snowflake.ID) (Bookability, error)

	// HasActiveBooking reports whether a non-cancelled booking exists
	// for the pair.
	HasActiveBooking(ctx context.Context, userID, eventID snowflake.ID) (bool, error)

	// Book reserves a spot. Booking twice is not an error: the second
	// call reports success with MsgAlreadyBooked and changes nothing.
	Book(ctx context.Context, eventID snowflake.ID, req BookRequest) (BookResult, error)

	// Cancel releases a booking and restores the spot.
	Cancel(ctx context.Context, eventID, userID snowflake.ID) error
}

// PendingPayment is the order-correlated payment row created alongside
// a payment-pending reservation.
type PendingPayment struct {
	ID          snowflake.ID
	OrderID     string
	BookingID   snowflake.ID
	EventID     snowflake.ID
	UserID      snowflake.ID
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindActive(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) (*Booking, error)
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// FindEventForUpdate reads the event row under a row lock on
	// dialects that support one.
	FindEventForUpdate(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*eventdomain.Event, error)

	// ApplyReservation persists spots_left and attendees from the
	// in-memory event.
	ApplyReservation(ctx context.Context, db *gorm.DB, event *eventdomain.Event) error

	// ReserveSpotGuarded is the fallback path's conditional decrement:
	// returns false when no spot was left at write time.
	ReserveSpotGuarded(ctx context.Context, db *gorm.DB, event *eventdomain.Event) (bool, error)

	InsertPendingPayment(ctx context.Context, db *gorm.DB, payment *PendingPayment) error
}

var (
	ErrNotFound = errors.New("booking_not_found")
)
