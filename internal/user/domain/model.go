package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a member profile. EventsBooked and the membership fields are
// denormalized copies maintained by the booking engine and the payment
// reconciler; bookings remain the source of truth.
type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"type:text;not null"`
	DisplayName string       `json:"display_name" gorm:"type:text"`
	Role        string       `json:"role" gorm:"type:text;not null"`

	MembershipYears   datatypes.JSONSlice[int] `json:"membership_years" gorm:"type:jsonb"`
	CurrentYearMember bool                     `json:"current_year_member"`
	LastBookingYear   int                      `json:"last_booking_year"`

	PersonalDetailsLastConfirmed *time.Time `json:"personal_details_last_confirmed"`

	EventsBooked datatypes.JSONSlice[string] `json:"events_booked" gorm:"type:jsonb"`

	FirstName string `json:"first_name" gorm:"type:text"`
	LastName  string `json:"last_name" gorm:"type:text"`
	BirthDate string `json:"birth_date" gorm:"type:text"`
	Address   string `json:"address" gorm:"type:text"`
	TaxID     string `json:"tax_id" gorm:"column:tax_id;type:text"`
	Instagram string `json:"instagram" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// HasBooked reports whether eventID is already in the denormalized list.
func (u *User) HasBooked(eventID snowflake.ID) bool {
	want := eventID.String()
	for _, id := range u.EventsBooked {
		if id == want {
			return true
		}
	}
	return false
}

// IsMemberFor reports whether year is in the membership set.
func (u *User) IsMemberFor(year int) bool {
	for _, y := range u.MembershipYears {
		if y == year {
			return true
		}
	}
	return false
}

// PersonalDetailsComplete reports whether the profile fields required
// before a first booking are filled in.
func (u *User) PersonalDetailsComplete() bool {
	return strings.TrimSpace(u.FirstName) != "" &&
		strings.TrimSpace(u.LastName) != "" &&
		strings.TrimSpace(u.BirthDate) != "" &&
		strings.TrimSpace(u.Address) != "" &&
		strings.TrimSpace(u.TaxID) != ""
}

type PersonalDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	Address   string `json:"address"`
	TaxID     string `json:"tax_id"`
	Instagram string `json:"instagram"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Get(ctx context.Context, id snowflake.ID) (*User, error)
	UpdatePersonalDetails(ctx context.Context, id snowflake.ID, details PersonalDetails) (*User, error)
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	UpdatePersonalDetails(ctx context.Context, db *gorm.DB, user *User) error

	// RecordBooking updates the denormalized booking fields inside the
	// caller's transaction: appends eventID to events_booked, adds year
	// to membership_years and stamps last_booking_year.
	RecordBooking(ctx context.Context, db *gorm.DB, user *User, eventID snowflake.ID, year int) error

	// AppendEventBooked is the reconciler's idempotent variant: a no-op
	// when eventID is already present.
	AppendEventBooked(ctx context.Context, db *gorm.DB, userID snowflake.ID, eventID snowflake.ID) error
}

var (
	ErrNotFound           = errors.New("user_not_found")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrDetailsIncomplete  = errors.New("personal_details_incomplete")
	ErrDuplicateEmail     = errors.New("duplicate_email")
	ErrInvalidDisplayName = errors.New("invalid_display_name")
)
