package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// Service produces flattened booking reports for the organizers.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("export.service"),
	}
}

type bookingRow struct {
	BookingID     snowflake.ID
	Status        string
	PaymentStatus string
	ContactName   string
	ContactEmail  string
	ContactPhone  string
	CreatedAt     time.Time

	EventTitle string
	EventDate  string
	EventTime  string

	UserEmail string
	FirstName string
	LastName  string

	AmountCents int64
	Currency    string
}

// WriteBookingsCSV streams every booking for one event, newest last,
// with the user and payment columns denormalized in.
func (s *Service) WriteBookingsCSV(ctx context.Context, w io.Writer, eventID snowflake.ID) error {
	var rows []bookingRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT b.id AS booking_id, b.status, b.payment_status,
		        b.contact_name, b.contact_email, b.contact_phone, b.created_at,
		        e.title AS event_title, e.event_date, e.event_time,
		        u.email AS user_email, u.first_name, u.last_name,
		        COALESCE(p.amount_cents, 0) AS amount_cents,
		        COALESCE(p.currency, '') AS currency
		 FROM bookings b
		 JOIN events e ON e.id = b.event_id
		 JOIN users u ON u.id = b.user_id
		 LEFT JOIN payments p ON p.booking_id = b.id
		 WHERE b.event_id = ?
		 ORDER BY b.created_at ASC`,
		eventID,
	).Scan(&rows).Error
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"booking_id", "status", "payment_status",
		"event_title", "event_date", "event_time",
		"first_name", "last_name", "email", "phone",
		"amount", "currency", "booked_at",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		email := row.ContactEmail
		if email == "" {
			email = row.UserEmail
		}
		amount := ""
		if row.AmountCents != 0 {
			amount = fmt.Sprintf("%d.%02d", row.AmountCents/100, row.AmountCents%100)
		}
		record := []string{
			row.BookingID.String(),
			row.Status,
			row.PaymentStatus,
			row.EventTitle,
			row.EventDate,
			row.EventTime,
			row.FirstName,
			row.LastName,
			email,
			row.ContactPhone,
			amount,
			row.Currency,
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

var Module = fx.Module("export.service",
	fx.Provide(NewService),
)
