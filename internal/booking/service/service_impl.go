package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fstopclub/fstop/internal/audit/domain"
	"github.com/fstopclub/fstop/internal/booking/domain"
	"github.com/fstopclub/fstop/internal/clock"
	"github.com/fstopclub/fstop/internal/config"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"github.com/fstopclub/fstop/internal/event/schedule"
	"github.com/fstopclub/fstop/internal/observability/metrics"
	"github.com/fstopclub/fstop/internal/providers/email"
	userdomain "github.com/fstopclub/fstop/internal/user/domain"
	"github.com/fstopclub/fstop/pkg/db"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Booking rejections travel as sentinel errors inside the transaction so
// a rollback fires, then get mapped back to a BookResult at the edge.
var (
	errEventNotFound = errors.New("book_event_not_found")
	errSchedule      = errors.New("book_schedule_unavailable")
	errClosed        = errors.New("book_closed")
	errNoSpots       = errors.New("book_no_spots")
	errAlreadyBooked = errors.New("book_already_booked")
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Policy  *config.BookingPolicyHolder
	Repo    domain.Repository
	Events  eventdomain.Repository
	Users   userdomain.Repository
	Audit   auditdomain.Service
	Email   email.Provider
	Metrics *metrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	policy  *config.BookingPolicyHolder
	repo    domain.Repository
	events  eventdomain.Repository
	users   userdomain.Repository
	audit   auditdomain.Service
	email   email.Provider
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("booking.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		policy:  p.Policy,
		repo:    p.Repo,
		events:  p.Events,
		users:   p.Users,
		audit:   p.Audit,
		email:   p.Email,
		metrics: p.Metrics,
	}
}

func (s *Service) Bookable(ctx context.Context, eventID snowflake.ID) (domain.Bookability, error) {
	event, err := s.events.Find(ctx, s.db, eventID)
	if err != nil {
		return domain.Bookability{}, err
	}
	if event == nil {
		return domain.Bookability{Reason: domain.MsgEventNotFound}, nil
	}

	// Booking stays open through the attendance window after start, so
	// both upcoming and active events accept bookings.
	switch status := s.resolve(event); status {
	case schedule.StatusUpcoming, schedule.StatusActive:
	case schedule.StatusUnknown:
		// Fail closed: an unparsable schedule never accepts bookings.
		return domain.Bookability{Reason: domain.MsgScheduleBroken}, nil
	default:
		return domain.Bookability{Reason: domain.MsgBookingClosed}, nil
	}

	if event.SpotsLeft <= 0 {
		return domain.Bookability{Reason: domain.MsgNoSpotsLeft}, nil
	}
	return domain.Bookability{Bookable: true}, nil
}

func (s *Service) HasActiveBooking(ctx context.Context, userID, eventID snowflake.ID) (bool, error) {
	booking, err := s.repo.FindActive(ctx, s.db, eventID, userID)
	if err != nil {
		return false, err
	}
	return booking != nil, nil
}

func (s *Service) Book(ctx context.Context, eventID snowflake.ID, req domain.BookRequest) (domain.BookResult, error) {
	existing, err := s.repo.FindActive(ctx, s.db, eventID, req.UserID)
	if err != nil {
		return domain.BookResult{}, err
	}
	if existing != nil {
		return domain.BookResult{
			Success:   true,
			Message:   domain.MsgAlreadyBooked,
			BookingID: existing.ID,
		}, nil
	}

	user, err := s.users.Find(ctx, s.db, req.UserID)
	if err != nil {
		return domain.BookResult{}, err
	}
	if user == nil {
		return domain.BookResult{}, userdomain.ErrNotFound
	}
	if !user.PersonalDetailsComplete() {
		return domain.BookResult{Message: domain.MsgDetailsNeeded}, nil
	}

	booking, pending, err := s.bookTransactional(ctx, eventID, user, req)
	if err != nil {
		if result, mapped := s.mapRejection(ctx, err); mapped {
			return result, nil
		}
		if !s.policy.Get().SequentialFallback {
			return domain.BookResult{}, err
		}
		s.log.Warn("transactional booking failed, retrying sequentially",
			zap.String("event_id", eventID.String()),
			zap.String("user_id", req.UserID.String()),
			zap.Error(err),
		)
		booking, pending, err = s.bookSequential(ctx, eventID, user, req)
		if err != nil {
			if result, mapped := s.mapRejection(ctx, err); mapped {
				return result, nil
			}
			return domain.BookResult{}, err
		}
	}

	s.afterBooking(ctx, booking, user)

	result := domain.BookResult{
		Success:   true,
		Message:   domain.MsgConfirmed,
		BookingID: booking.ID,
	}
	if pending != nil {
		result.Message = domain.MsgAwaitsPayment
		result.OrderID = pending.OrderID
	}
	return result, nil
}

// bookTransactional is the primary path: every write shares one
// transaction, so a failure anywhere leaves nothing behind.
func (s *Service) bookTransactional(ctx context.Context, eventID snowflake.ID, user *userdomain.User, req domain.BookRequest) (*domain.Booking, *domain.PendingPayment, error) {
	var (
		booking *domain.Booking
		pending *domain.PendingPayment
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		event, err := s.repo.FindEventForUpdate(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return errEventNotFound
		}
		if err := s.checkReservable(event, user.ID); err != nil {
			return err
		}

		booking = s.newBooking(event, user, req)
		if err := s.repo.Insert(ctx, tx, booking); err != nil {
			// The partial unique index on (event_id, user_id) for
			// non-cancelled rows turns a concurrent double-book into a
			// duplicate key error here.
			if db.IsDuplicateKeyErr(err) {
				return errAlreadyBooked
			}
			return err
		}

		event.SpotsLeft--
		event.Attendees = append(event.Attendees, user.ID.String())
		if err := s.repo.ApplyReservation(ctx, tx, event); err != nil {
			return err
		}

		// Price by membership status before this booking: RecordBooking
		// grants the current year below.
		if booking.Status == domain.StatusPaymentPending {
			pending = s.newPendingPayment(booking, event, user)
		}

		if err := s.users.RecordBooking(ctx, tx, user, eventID, s.clock.Now().Year()); err != nil {
			return err
		}

		if pending != nil {
			if err := s.repo.InsertPendingPayment(ctx, tx, pending); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, pending, nil
}

// bookSequential runs the same steps without a shared transaction. The
// spot decrement is guarded so an oversell is still impossible; the
// denormalized user update is best effort.
func (s *Service) bookSequential(ctx context.Context, eventID snowflake.ID, user *userdomain.User, req domain.BookRequest) (*domain.Booking, *domain.PendingPayment, error) {
	event, err := s.events.Find(ctx, s.db, eventID)
	if err != nil {
		return nil, nil, err
	}
	if event == nil {
		return nil, nil, errEventNotFound
	}
	if err := s.checkReservable(event, user.ID); err != nil {
		return nil, nil, err
	}

	booking := s.newBooking(event, user, req)
	if err := s.repo.Insert(ctx, s.db, booking); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, nil, errAlreadyBooked
		}
		return nil, nil, err
	}

	event.Attendees = append(event.Attendees, user.ID.String())
	reserved, err := s.repo.ReserveSpotGuarded(ctx, s.db, event)
	if err == nil && !reserved {
		err = errNoSpots
	}
	if err != nil {
		if delErr := s.repo.Delete(ctx, s.db, booking.ID); delErr != nil {
			s.log.Error("failed to roll back booking after reservation failure",
				zap.String("booking_id", booking.ID.String()),
				zap.Error(delErr),
			)
		}
		return nil, nil, err
	}

	var pending *domain.PendingPayment
	if booking.Status == domain.StatusPaymentPending {
		pending = s.newPendingPayment(booking, event, user)
	}

	if err := s.users.RecordBooking(ctx, s.db, user, eventID, s.clock.Now().Year()); err != nil {
		s.log.Error("failed to record booking on user profile",
			zap.String("user_id", user.ID.String()),
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
	}

	if pending != nil {
		if err := s.repo.InsertPendingPayment(ctx, s.db, pending); err != nil {
			s.log.Error("failed to create pending payment",
				zap.String("booking_id", booking.ID.String()),
				zap.Error(err),
			)
			pending = nil
		}
	}
	return booking, pending, nil
}

func (s *Service) Cancel(ctx context.Context, eventID, userID snowflake.ID) error {
	var cancelled *domain.Booking

	err := s.db.Transaction(func(tx *gorm.DB) error {
		booking, err := s.repo.FindActive(ctx, tx, eventID, userID)
		if err != nil {
			return err
		}
		if booking == nil {
			return domain.ErrNotFound
		}

		if err := s.repo.UpdateStatus(ctx, tx, booking.ID, domain.StatusCancelled); err != nil {
			return err
		}

		event, err := s.repo.FindEventForUpdate(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event != nil {
			removed := false
			want := userID.String()
			attendees := event.Attendees[:0]
			for _, id := range event.Attendees {
				if id == want && !removed {
					removed = true
					continue
				}
				attendees = append(attendees, id)
			}
			event.Attendees = attendees
			if removed && event.SpotsLeft < event.Spots {
				event.SpotsLeft++
			}
			if err := s.repo.ApplyReservation(ctx, tx, event); err != nil {
				return err
			}
		}

		cancelled = booking
		return nil
	})
	if err != nil {
		return err
	}

	targetID := cancelled.ID.String()
	if err := s.audit.AuditLog(ctx, &userID, "booking.cancelled", "booking", &targetID, map[string]any{
		"event_id": eventID.String(),
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) checkReservable(event *eventdomain.Event, userID snowflake.ID) error {
	switch status := s.resolve(event); status {
	case schedule.StatusUpcoming, schedule.StatusActive:
	case schedule.StatusUnknown:
		return errSchedule
	default:
		return errClosed
	}
	if event.HasAttendee(userID) {
		return errAlreadyBooked
	}
	if event.SpotsLeft <= 0 {
		return errNoSpots
	}
	return nil
}

func (s *Service) newBooking(event *eventdomain.Event, user *userdomain.User, req domain.BookRequest) *domain.Booking {
	now := s.clock.Now().UTC()
	status := domain.StatusConfirmed
	if req.PayOnline && event.Paid() {
		status = domain.StatusPaymentPending
	}

	contactEmail := strings.TrimSpace(req.ContactEmail)
	if contactEmail == "" {
		contactEmail = user.Email
	}
	contactName := strings.TrimSpace(req.ContactName)
	if contactName == "" {
		contactName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}

	return &domain.Booking{
		ID:           s.genID.Generate(),
		EventID:      event.ID,
		UserID:       user.ID,
		Status:       status,
		ContactName:  contactName,
		ContactEmail: contactEmail,
		ContactPhone: strings.TrimSpace(req.ContactPhone),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Service) newPendingPayment(booking *domain.Booking, event *eventdomain.Event, user *userdomain.User) *domain.PendingPayment {
	amount := int64(0)
	if user.IsMemberFor(s.clock.Now().Year()) {
		if event.MemberPriceCents != nil {
			amount = *event.MemberPriceCents
		}
	} else if event.NonMemberPriceCents != nil {
		amount = *event.NonMemberPriceCents
	}

	return &domain.PendingPayment{
		ID:          s.genID.Generate(),
		OrderID:     uuid.NewString(),
		BookingID:   booking.ID,
		EventID:     event.ID,
		UserID:      user.ID,
		AmountCents: amount,
		Currency:    s.policy.Get().Currency,
		CreatedAt:   s.clock.Now().UTC(),
	}
}

// mapRejection turns a business sentinel into a user-facing result.
// Infra errors fall through for the caller to handle.
func (s *Service) mapRejection(ctx context.Context, err error) (domain.BookResult, bool) {
	switch {
	case errors.Is(err, errAlreadyBooked):
		// Duplicate bookings are idempotent successes.
		return domain.BookResult{Success: true, Message: domain.MsgAlreadyBooked}, true
	case errors.Is(err, errEventNotFound):
		s.metrics.RecordBookingRejected(ctx, "event_not_found")
		return domain.BookResult{Message: domain.MsgEventNotFound}, true
	case errors.Is(err, errSchedule):
		s.metrics.RecordBookingRejected(ctx, "schedule_unavailable")
		return domain.BookResult{Message: domain.MsgScheduleBroken}, true
	case errors.Is(err, errClosed):
		s.metrics.RecordBookingRejected(ctx, "booking_closed")
		return domain.BookResult{Message: domain.MsgBookingClosed}, true
	case errors.Is(err, errNoSpots):
		s.metrics.RecordBookingRejected(ctx, "no_spots")
		return domain.BookResult{Message: domain.MsgNoSpotsLeft}, true
	default:
		return domain.BookResult{}, false
	}
}

// afterBooking runs post-commit side effects. Each one is isolated: a
// failing email or audit write never unwinds a committed booking.
func (s *Service) afterBooking(ctx context.Context, booking *domain.Booking, user *userdomain.User) {
	s.metrics.RecordBooking(ctx, booking.Status)

	targetID := booking.ID.String()
	if err := s.audit.AuditLog(ctx, &user.ID, "booking.created", "booking", &targetID, map[string]any{
		"event_id": booking.EventID.String(),
		"status":   booking.Status,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	if booking.ContactEmail != "" {
		subject := "Your booking is confirmed"
		body := fmt.Sprintf("<p>Hi %s,</p><p>Your spot is reserved. Booking reference: %s.</p>",
			booking.ContactName, booking.ID.String())
		if booking.Status == domain.StatusPaymentPending {
			subject = "Your spot is reserved, payment pending"
		}
		if err := s.email.Send(ctx, []string{booking.ContactEmail}, subject, body); err != nil {
			s.log.Warn("failed to send booking email",
				zap.String("booking_id", booking.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) resolve(event *eventdomain.Event) schedule.Status {
	window := s.policy.Get().AttendanceWindow()
	return schedule.ResolveWithWindow(event.Date, event.Time, window, s.clock.Now())
}
