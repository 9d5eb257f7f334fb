package service_test

import (
	"context"
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
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	policy  *config.BookingPolicyHolder
	svc     bookingdomain.Service
	repo    bookingdomain.Repository
	events  eventdomain.Repository
	users   userdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	// A quiet Tuesday morning well before any test event starts.
	clk := clock.NewFakeClock(time.Date(2027, time.April, 20, 9, 0, 0, 0, time.UTC))
	policy := &config.BookingPolicyHolder{}

	repo := bookingrepo.Provide()
	events := eventrepo.Provide()
	users := userrepo.Provide()

	svc := bookingservice.NewService(bookingservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Policy: policy,
		Repo:   repo,
		Events: events,
		Users:  users,
		Audit:  noopAuditService{},
		Email:  &email.NoOpProvider{},
	})

	return &fixture{
		db:     db,
		node:   node,
		clk:    clk,
		policy: policy,
		svc:    svc,
		repo:   repo,
		events: events,
		users:  users,
	}
}

func (f *fixture) seedEvent(t *testing.T, spots int, opts ...func(*eventdomain.Event)) *eventdomain.Event {
	t.Helper()

	now := f.clk.Now().UTC()
	event := &eventdomain.Event{
		ID:        f.node.Generate(),
		Title:     "Golden hour walk",
		Type:      eventdomain.TypeWalk,
		Date:      "April 20, 2027",
		Time:      "6:00 PM - 8:00 PM",
		Spots:     spots,
		SpotsLeft: spots,
		Attendees: datatypes.JSONSlice[string]{},
		Status:    "upcoming",
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(event)
	}
	require.NoError(t, f.events.Insert(context.Background(), f.db, event))
	return event
}

func (f *fixture) seedUser(t *testing.T, complete bool) *userdomain.User {
	t.Helper()

	now := f.clk.Now().UTC()
	user := &userdomain.User{
		ID:              f.node.Generate(),
		Email:           fmt.Sprintf("user%s@example.com", f.node.Generate()),
		DisplayName:     "Alex",
		Role:            userdomain.RoleUser,
		MembershipYears: datatypes.JSONSlice[int]{},
		EventsBooked:    datatypes.JSONSlice[string]{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if complete {
		user.FirstName = "Alex"
		user.LastName = "Muster"
		user.BirthDate = "1990-05-01"
		user.Address = "Hauptstr. 1, Berlin"
		user.TaxID = "DE123456789"
	}
	require.NoError(t, f.users.Insert(context.Background(), f.db, user))
	return user
}

func TestBookReservesSpot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 3)
	user := f.seedUser(t, true)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, bookingdomain.MsgConfirmed, result.Message)
	require.NotZero(t, result.BookingID)

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SpotsLeft)
	assert.True(t, got.HasAttendee(user.ID))

	booking, err := f.repo.Find(ctx, f.db, result.BookingID)
	require.NoError(t, err)
	require.NotNil(t, booking)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	assert.Equal(t, user.Email, booking.ContactEmail)

	profile, err := f.users.Find(ctx, f.db, user.ID)
	require.NoError(t, err)
	assert.True(t, profile.HasBooked(event.ID))
	assert.True(t, profile.IsMemberFor(2027))
	assert.Equal(t, 2027, profile.LastBookingYear)
}

func TestBookTwiceReportsAlreadyBooked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 3)
	user := f.seedUser(t, true)

	first, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, bookingdomain.MsgAlreadyBooked, second.Message)

	// No double decrement.
	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SpotsLeft)
}

func TestBookFullEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 1)
	first := f.seedUser(t, true)
	second := f.seedUser(t, true)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: first.ID})
	require.NoError(t, err)
	require.True(t, result.Success)

	result, err = f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: second.ID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, bookingdomain.MsgNoSpotsLeft, result.Message)

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SpotsLeft)
	assert.False(t, got.HasAttendee(second.ID))
}

func TestBookDuringAttendanceWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 3)
	user := f.seedUser(t, true)

	// Half an hour into the event; booking stays open through the
	// attendance window.
	f.clk.Set(time.Date(2027, time.April, 20, 18, 30, 0, 0, time.UTC))

	got, err := f.svc.Bookable(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, got.Bookable)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, bookingdomain.MsgConfirmed, result.Message)
}

func TestBookClosedAfterAttendanceWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 3)
	user := f.seedUser(t, true)

	// Two hours past the 6 PM start, outside the default one hour window.
	f.clk.Set(time.Date(2027, time.April, 20, 20, 0, 0, 0, time.UTC))

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, bookingdomain.MsgBookingClosed, result.Message)
}

func TestBookUnparsableScheduleFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 3, func(e *eventdomain.Event) {
		e.Date = "Sometime in spring"
	})
	user := f.seedUser(t, true)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, bookingdomain.MsgScheduleBroken, result.Message)

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SpotsLeft)
}

func TestBookMissingEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t, true)

	result, err := f.svc.Book(ctx, f.node.Generate(), bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, bookingdomain.MsgEventNotFound, result.Message)
}

func TestBookRequiresCompletePersonalDetails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 3)
	user := f.seedUser(t, false)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, bookingdomain.MsgDetailsNeeded, result.Message)
}

func TestBookPaidEventCreatesPendingPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	memberPrice := int64(1500)
	nonMemberPrice := int64(2500)
	event := f.seedEvent(t, 3, func(e *eventdomain.Event) {
		e.MemberPriceCents = &memberPrice
		e.NonMemberPriceCents = &nonMemberPrice
	})
	user := f.seedUser(t, true)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{
		UserID:    user.ID,
		PayOnline: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, bookingdomain.MsgAwaitsPayment, result.Message)
	require.NotEmpty(t, result.OrderID)

	booking, err := f.repo.Find(ctx, f.db, result.BookingID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPaymentPending, booking.Status)

	// Spot is held while payment is outstanding.
	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SpotsLeft)

	// Not a member before this booking, so the non-member price applies.
	var payment struct {
		AmountCents int64
		Currency    string
		Status      string
	}
	err = f.db.Raw(
		`SELECT amount_cents, currency, status FROM payments WHERE order_id = ?`,
		result.OrderID,
	).Scan(&payment).Error
	require.NoError(t, err)
	assert.Equal(t, nonMemberPrice, payment.AmountCents)
	assert.Equal(t, "EUR", payment.Currency)
	assert.Equal(t, "PENDING", payment.Status)
}

func TestCancelRestoresSpot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 2)
	user := f.seedUser(t, true)

	result, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.NoError(t, f.svc.Cancel(ctx, event.ID, user.ID))

	got, err := f.events.Find(ctx, f.db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SpotsLeft)
	assert.False(t, got.HasAttendee(user.ID))

	active, err := f.svc.HasActiveBooking(ctx, user.ID, event.ID)
	require.NoError(t, err)
	assert.False(t, active)

	// The slot can be rebooked after cancellation.
	again, err := f.svc.Book(ctx, event.ID, bookingdomain.BookRequest{UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, bookingdomain.MsgConfirmed, again.Message)
}

func TestCancelWithoutBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 2)
	user := f.seedUser(t, true)

	err := f.svc.Cancel(ctx, event.ID, user.ID)
	assert.ErrorIs(t, err, bookingdomain.ErrNotFound)
}

func TestBookableChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("open event", func(t *testing.T) {
		event := f.seedEvent(t, 2)
		got, err := f.svc.Bookable(ctx, event.ID)
		require.NoError(t, err)
		assert.True(t, got.Bookable)
	})

	t.Run("missing event", func(t *testing.T) {
		got, err := f.svc.Bookable(ctx, f.node.Generate())
		require.NoError(t, err)
		assert.False(t, got.Bookable)
		assert.Equal(t, bookingdomain.MsgEventNotFound, got.Reason)
	})

	t.Run("full event", func(t *testing.T) {
		event := f.seedEvent(t, 0)
		got, err := f.svc.Bookable(ctx, event.ID)
		require.NoError(t, err)
		assert.False(t, got.Bookable)
		assert.Equal(t, bookingdomain.MsgNoSpotsLeft, got.Reason)
	})

	t.Run("malformed schedule", func(t *testing.T) {
		event := f.seedEvent(t, 2, func(e *eventdomain.Event) {
			e.Time = "evening"
		})
		got, err := f.svc.Bookable(ctx, event.ID)
		require.NoError(t, err)
		assert.False(t, got.Bookable)
		assert.Equal(t, bookingdomain.MsgScheduleBroken, got.Reason)
	})
}

func TestSequentialFallbackGuardsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	event := f.seedEvent(t, 1)

	// Drain the last spot out from under the guarded update.
	require.NoError(t, f.db.Exec(
		`UPDATE events SET spots_left = 0 WHERE id = ?`, event.ID,
	).Error)

	reserved, err := f.repo.ReserveSpotGuarded(ctx, f.db, event)
	require.NoError(t, err)
	assert.False(t, reserved)
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
		`CREATE UNIQUE INDEX ux_users_email ON users(email)`,
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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
