package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/fstopclub/fstop/internal/booking/domain"
	bookingrepo "github.com/fstopclub/fstop/internal/booking/repository"
	bookingservice "github.com/fstopclub/fstop/internal/booking/service"
	"github.com/fstopclub/fstop/internal/clock"
	"github.com/fstopclub/fstop/internal/config"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	eventrepo "github.com/fstopclub/fstop/internal/event/repository"
	paymentdomain "github.com/fstopclub/fstop/internal/payment/domain"
	paymentrepo "github.com/fstopclub/fstop/internal/payment/repository"
	paymentservice "github.com/fstopclub/fstop/internal/payment/service"
	"github.com/fstopclub/fstop/internal/providers/email"
	userdomain "github.com/fstopclub/fstop/internal/user/domain"
	userrepo "github.com/fstopclub/fstop/internal/user/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, actorID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clk      *clock.FakeClock
	payments paymentdomain.Service
	repo     paymentdomain.Repository
	bookings bookingdomain.Service
	events   eventdomain.Repository
	users    userdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2027, time.April, 20, 9, 0, 0, 0, time.UTC))
	policy := &config.BookingPolicyHolder{}

	paymentRepo := paymentrepo.Provide()
	userRepo := userrepo.Provide()
	eventRepo := eventrepo.Provide()

	payments := paymentservice.NewService(paymentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  paymentRepo,
		Users: userRepo,
	})

	bookings := bookingservice.NewService(bookingservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Policy: policy,
		Repo:   bookingrepo.Provide(),
		Events: eventRepo,
		Users:  userRepo,
		Audit:  noopAuditService{},
		Email:  &email.NoOpProvider{},
	})

	return &fixture{
		db:       db,
		node:     node,
		clk:      clk,
		payments: payments,
		repo:     paymentRepo,
		bookings: bookings,
		events:   eventRepo,
		users:    userRepo,
	}
}

// seedPaidBooking creates a paid event, a complete user and a
// payment-pending reservation, and returns the order id awaiting its
// capture.
func (f *fixture) seedPaidBooking(t *testing.T) (*eventdomain.Event, *userdomain.User, bookingdomain.BookResult) {
	t.Helper()
	ctx := context.Background()

	price := int64(2500)
	now := f.clk.Now().UTC()
	event := &eventdomain.Event{
		ID:                  f.node.Generate(),
		Title:               "Darkroom workshop",
		Type:                eventdomain.TypeWorkshop,
		Date:                "April 20, 2027",
		Time:                "6:00 PM - 8:00 PM",
		Spots:               5,
		SpotsLeft:           5,
		Attendees:           datatypes.JSONSlice[string]{},
		Status:              "upcoming",
		NonMemberPriceCents: &price,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, f.events.Insert(ctx, f.db, event))

	user := &userdomain.User{
		ID:              f.node.Generate(),
		Email:           fmt.Sprintf("payer%s@example.com", f.node.Generate()),
		Role:            userdomain.RoleUser,
		MembershipYears: datatypes.JSONSlice[int]{},
		EventsBooked:    datatypes.JSONSlice[string]{},
		FirstName:       "Robin",
		LastName:        "Muster",
		BirthDate:       "1992-01-15",
		Address:         "Ringstr. 5, Hamburg",
		TaxID:           "DE987654321",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, f.users.Insert(ctx, f.db, user))

	result, err := f.bookings.Book(ctx, event.ID, bookingdomain.BookRequest{
		UserID:    user.ID,
		PayOnline: true,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.OrderID)

	return event, user, result
}

func captureEnvelope(eventID, captureID, orderID, customID string) (paymentdomain.Envelope, []byte) {
	envelope := paymentdomain.Envelope{
		ID:        eventID,
		EventType: paymentdomain.EventCaptureCompleted,
	}
	envelope.Resource.ID = captureID
	envelope.Resource.Status = "COMPLETED"
	envelope.Resource.CustomID = customID
	envelope.Resource.Amount = paymentdomain.Amount{CurrencyCode: "EUR", Value: "25.00"}
	envelope.Resource.Payer = paymentdomain.Payer{PayerID: "P123", EmailAddress: "payer@example.com"}
	envelope.Resource.SupplementaryData.RelatedIDs.OrderID = orderID

	raw, _ := json.Marshal(envelope)
	return envelope, raw
}

func TestCaptureConfirmsPendingBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event, user, result := f.seedPaidBooking(t)

	envelope, raw := captureEnvelope("WH-1", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.StatusCompleted, payment.Status)
	assert.Equal(t, int64(2500), payment.AmountCents)
	assert.Equal(t, "P123", payment.PayerID)

	var booking bookingdomain.Booking
	require.NoError(t, f.db.Raw(
		`SELECT id, status, payment_status FROM bookings WHERE id = ?`, result.BookingID,
	).Scan(&booking).Error)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	assert.Equal(t, paymentdomain.StatusCompleted, booking.PaymentStatus)

	// Seat was reserved at booking time; the capture must not take a
	// second one.
	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.SpotsLeft)
	assert.True(t, got.HasAttendee(user.ID))
}

func TestRedeliveredEventAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event, _, result := f.seedPaidBooking(t)

	envelope, raw := captureEnvelope("WH-1", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	err := f.payments.ApplyEvent(ctx, envelope, raw)
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.SpotsLeft)

	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM payment_webhook_events WHERE provider_event_id = ?`, "WH-1",
	).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSameCaptureUnderNewEventID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event, _, result := f.seedPaidBooking(t)

	first, raw1 := captureEnvelope("WH-1", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, first, raw1))

	// Providers occasionally replay a capture under a fresh event id.
	second, raw2 := captureEnvelope("WH-2", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, second, raw2))

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.SpotsLeft)

	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM payments WHERE capture_id = ?`, "CAP-1",
	).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCaptureCorrelatedByCustomID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event, user, result := f.seedPaidBooking(t)

	customID := fmt.Sprintf("%s|%s", event.ID, user.ID)
	envelope, raw := captureEnvelope("WH-1", "CAP-1", "", customID)
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.StatusCompleted, payment.Status)
	require.NotNil(t, payment.BookingID)
	assert.Equal(t, result.BookingID, *payment.BookingID)
}

func TestOrphanCaptureStoredUnlinked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	envelope, raw := captureEnvelope("WH-9", "CAP-9", "ORD-unknown", "")
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-9")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.StatusCompleted, payment.Status)
	assert.Nil(t, payment.BookingID)
	assert.Equal(t, "ORD-unknown", payment.OrderID)
}

func TestRefundKeepsSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event, user, result := f.seedPaidBooking(t)

	envelope, raw := captureEnvelope("WH-1", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	refund := paymentdomain.Envelope{
		ID:        "WH-2",
		EventType: paymentdomain.EventCaptureRefunded,
	}
	refund.Resource.ID = "CAP-1"
	refundRaw, _ := json.Marshal(refund)
	require.NoError(t, f.payments.ApplyEvent(ctx, refund, refundRaw))

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusRefunded, payment.Status)

	// The booking stays confirmed and the seat stays taken; releasing
	// the spot is an explicit cancellation, not a money movement.
	var booking bookingdomain.Booking
	require.NoError(t, f.db.Raw(
		`SELECT id, status, payment_status FROM bookings WHERE id = ?`, result.BookingID,
	).Scan(&booking).Error)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	assert.Equal(t, paymentdomain.StatusRefunded, booking.PaymentStatus)

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.SpotsLeft)
	assert.True(t, got.HasAttendee(user.ID))
}

func TestCaptureAfterCancellationKeepsBookingCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event, user, result := f.seedPaidBooking(t)

	require.NoError(t, f.bookings.Cancel(ctx, event.ID, user.ID))

	envelope, raw := captureEnvelope("WH-1", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	// The money movement is recorded; the cancellation stands.
	var booking bookingdomain.Booking
	require.NoError(t, f.db.Raw(
		`SELECT id, status, payment_status FROM bookings WHERE id = ?`, result.BookingID,
	).Scan(&booking).Error)
	assert.Equal(t, bookingdomain.StatusCancelled, booking.Status)
	assert.Equal(t, paymentdomain.StatusCompleted, booking.PaymentStatus)

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.StatusCompleted, payment.Status)

	// The released seat is not taken back for a cancelled booking.
	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.SpotsLeft)
	assert.False(t, got.HasAttendee(user.ID))
}

func TestReversedCaptureStampsReversed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, result := f.seedPaidBooking(t)

	envelope, raw := captureEnvelope("WH-1", "CAP-1", result.OrderID, "")
	require.NoError(t, f.payments.ApplyEvent(ctx, envelope, raw))

	reversal := paymentdomain.Envelope{
		ID:        "WH-2",
		EventType: paymentdomain.EventCaptureReversed,
	}
	reversal.Resource.ID = "CAP-1"
	reversalRaw, _ := json.Marshal(reversal)
	require.NoError(t, f.payments.ApplyEvent(ctx, reversal, reversalRaw))

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.StatusReversed, payment.Status)

	var booking bookingdomain.Booking
	require.NoError(t, f.db.Raw(
		`SELECT id, status, payment_status FROM bookings WHERE id = ?`, result.BookingID,
	).Scan(&booking).Error)
	assert.Equal(t, paymentdomain.StatusReversed, booking.PaymentStatus)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
}

func TestDeniedCaptureMarksBookingFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, result := f.seedPaidBooking(t)

	denied := paymentdomain.Envelope{
		ID:        "WH-1",
		EventType: paymentdomain.EventCaptureDenied,
	}
	denied.Resource.ID = "CAP-1"
	denied.Resource.SupplementaryData.RelatedIDs.OrderID = result.OrderID
	raw, _ := json.Marshal(denied)
	require.NoError(t, f.payments.ApplyEvent(ctx, denied, raw))

	var booking bookingdomain.Booking
	require.NoError(t, f.db.Raw(
		`SELECT id, status, payment_status FROM bookings WHERE id = ?`, result.BookingID,
	).Scan(&booking).Error)
	assert.Equal(t, paymentdomain.StatusFailed, booking.PaymentStatus)
	// Still awaiting either a successful retry or a cancellation.
	assert.Equal(t, bookingdomain.StatusPaymentPending, booking.Status)

	payment, err := f.repo.FindByCaptureID(ctx, f.db, "CAP-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.StatusFailed, payment.Status)
}

func TestUnknownEventTypeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	envelope := paymentdomain.Envelope{ID: "WH-1", EventType: "CHECKOUT.ORDER.APPROVED"}
	raw, _ := json.Marshal(envelope)
	err := f.payments.ApplyEvent(ctx, envelope, raw)
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownEventType)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE events (
			id BIGINT PRIMARY KEY,
			title TEXT NOT NULL,
			type TEXT NOT NULL,
			event_date TEXT NOT NULL,
			event_time TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			spots INT NOT NULL,
			spots_left INT NOT NULL,
			attendees TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'upcoming',
			member_price_cents BIGINT,
			non_member_price_cents BIGINT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			membership_years TEXT NOT NULL DEFAULT '[]',
			current_year_member BOOLEAN NOT NULL DEFAULT FALSE,
			last_booking_year INT NOT NULL DEFAULT 0,
			personal_details_last_confirmed DATETIME,
			events_booked TEXT NOT NULL DEFAULT '[]',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			birth_date TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			tax_id TEXT NOT NULL DEFAULT '',
			instagram TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE bookings (
			id BIGINT PRIMARY KEY,
			event_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL DEFAULT '',
			contact_name TEXT NOT NULL DEFAULT '',
			contact_email TEXT NOT NULL DEFAULT '',
			contact_phone TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_bookings_active
			ON bookings(event_id, user_id) WHERE status <> 'cancelled'`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			capture_id TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			booking_id BIGINT,
			event_id BIGINT,
			user_id BIGINT,
			payer_id TEXT NOT NULL DEFAULT '',
			payer_email TEXT NOT NULL DEFAULT '',
			amount_cents BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			raw_payload TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payments_capture
			ON payments(capture_id) WHERE capture_id <> ''`,
		`CREATE TABLE payment_webhook_events (
			id BIGINT PRIMARY KEY,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			capture_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_payment_webhook_events_provider
			ON payment_webhook_events(provider_event_id)`,
		`CREATE TABLE webhook_failures (
			id BIGINT PRIMARY KEY,
			provider_event_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
