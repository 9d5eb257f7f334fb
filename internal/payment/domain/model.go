package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment statuses. A denied capture is recorded as FAILED; reversals
// and refunds keep their own terminal states.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusReversed  = "REVERSED"
	StatusRefunded  = "REFUNDED"
)

// Webhook event types the reconciler understands.
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCaptureReversed  = "PAYMENT.CAPTURE.REVERSED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

func KnownEventType(t string) bool {
	switch t {
	case EventCaptureCompleted, EventCaptureDenied, EventCaptureReversed, EventCaptureRefunded:
		return true
	default:
		return false
	}
}

// Payment is one provider capture correlated (when possible) with a
// booking. Orphan captures are stored unlinked for manual follow-up.
type Payment struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	CaptureID string       `json:"capture_id" gorm:"type:text"`
	OrderID   string       `json:"order_id" gorm:"type:text"`

	BookingID *snowflake.ID `json:"booking_id"`
	EventID   *snowflake.ID `json:"event_id"`
	UserID    *snowflake.ID `json:"user_id"`

	PayerID    string `json:"payer_id" gorm:"type:text"`
	PayerEmail string `json:"payer_email" gorm:"type:text"`

	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency" gorm:"type:text"`
	Status      string `json:"status" gorm:"type:text;not null"`

	RawPayload datatypes.JSON `json:"raw_payload" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// WebhookEvent is the idempotency ledger row for one provider delivery.
// provider_event_id is unique, so a redelivered envelope inserts nothing.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	CaptureID       string         `json:"capture_id" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "payment_webhook_events" }

// WebhookFailure is the dead-letter row for envelopes that could not be
// applied. The webhook endpoint still acknowledges them.
type WebhookFailure struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text"`
	EventType       string         `json:"event_type" gorm:"type:text"`
	Reason          string         `json:"reason" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
}

func (WebhookFailure) TableName() string { return "webhook_failures" }

// Envelope is the provider's webhook body.
type Envelope struct {
	ID         string   `json:"id"`
	EventType  string   `json:"event_type"`
	CreateTime string   `json:"create_time"`
	Resource   Resource `json:"resource"`
}

// Resource is the capture the envelope describes. CustomID carries the
// "<event_id>|<user_id>" pair the checkout flow sets; older checkouts
// only carry the order id.
type Resource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
	Amount   Amount `json:"amount"`
	Payer    Payer  `json:"payer"`

	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

func (r Resource) OrderID() string {
	return r.SupplementaryData.RelatedIDs.OrderID
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Payer struct {
	PayerID      string `json:"payer_id"`
	EmailAddress string `json:"email_address"`
}

type Service interface {
	// ApplyEvent applies one provider envelope exactly once. A
	// redelivered envelope returns ErrEventAlreadyProcessed and changes
	// nothing.
	ApplyEvent(ctx context.Context, envelope Envelope, raw []byte) error

	// RecordFailure dead-letters an envelope that could not be applied.
	RecordFailure(ctx context.Context, providerEventID, eventType, reason string, raw []byte)
}

type Repository interface {
	// InsertEvent claims the ledger slot for a delivery. Returns false
	// when provider_event_id was already claimed.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error

	FindByCaptureID(ctx context.Context, db *gorm.DB, captureID string) (*Payment, error)
	FindPendingByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)
	FindPendingByEventUser(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) (*Payment, error)

	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error

	// UpdateBookingPayment stamps the provider status onto the booking
	// and optionally moves the booking status. The status move only
	// applies to payment-pending rows, so a capture never resurrects a
	// cancelled booking; the bool reports whether the move happened.
	UpdateBookingPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, bookingStatus, paymentStatus string) (bool, error)

	// EnsureAttendee makes sure the paying user holds a spot: a no-op
	// when already an attendee, otherwise appends and decrements
	// spots_left when one is free.
	EnsureAttendee(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) error

	InsertFailure(ctx context.Context, db *gorm.DB, failure *WebhookFailure) error
}

var (
	ErrEventAlreadyProcessed = errors.New("payment_event_already_processed")
	ErrUnknownEventType      = errors.New("unknown_payment_event_type")
)
