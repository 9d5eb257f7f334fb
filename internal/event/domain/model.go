package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/event/schedule"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeHunt       = "hunt"
	TypeWorkshop   = "workshop"
	TypeExhibition = "exhibition"
	TypeWalk       = "walk"
)

// Event is a bookable activity with fixed capacity and a scheduled
// date/time window. Attendees is denormalized: the capacity invariant
// is spots - spots_left == len(attendees), and a user id appears at
// most once.
type Event struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Title       string       `json:"title" gorm:"type:text;not null"`
	Type        string       `json:"type" gorm:"type:text;not null"`
	Date        string       `json:"date" gorm:"column:event_date;type:text;not null"`
	Time        string       `json:"time" gorm:"column:event_time;type:text;not null"`
	Location    string       `json:"location" gorm:"type:text"`
	Description string       `json:"description" gorm:"type:text"`
	Spots       int          `json:"spots" gorm:"not null"`
	SpotsLeft   int          `json:"spots_left" gorm:"not null"`

	Attendees datatypes.JSONSlice[string] `json:"attendees" gorm:"type:jsonb"`

	// Stored status is a denormalized cache refreshed by the status
	// maintenance job; reads resolve the effective status instead.
	Status string `json:"status" gorm:"type:text"`

	MemberPriceCents    *int64 `json:"member_price_cents"`
	NonMemberPriceCents *int64 `json:"non_member_price_cents"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Event) TableName() string { return "events" }

func ValidType(t string) bool {
	switch t {
	case TypeHunt, TypeWorkshop, TypeExhibition, TypeWalk:
		return true
	default:
		return false
	}
}

// HasAttendee reports whether userID already holds a spot.
func (e *Event) HasAttendee(userID snowflake.ID) bool {
	want := userID.String()
	for _, id := range e.Attendees {
		if id == want {
			return true
		}
	}
	return false
}

// Paid reports whether booking this event requires an online payment.
func (e *Event) Paid() bool {
	return (e.MemberPriceCents != nil && *e.MemberPriceCents > 0) ||
		(e.NonMemberPriceCents != nil && *e.NonMemberPriceCents > 0)
}

// View is an Event with its effective status resolved at read time.
type View struct {
	Event
	EffectiveStatus schedule.Status `json:"effective_status"`
}

type CreateRequest struct {
	Title               string `json:"title"`
	Type                string `json:"type"`
	Date                string `json:"date"`
	Time                string `json:"time"`
	Location            string `json:"location"`
	Description         string `json:"description"`
	Spots               int    `json:"spots"`
	MemberPriceCents    *int64 `json:"member_price_cents"`
	NonMemberPriceCents *int64 `json:"non_member_price_cents"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*View, error)
	Get(ctx context.Context, id snowflake.ID) (*View, error)
	List(ctx context.Context, statusFilter string) ([]View, error)

	// RefreshStatuses persists the resolved status onto event rows whose
	// stored status went stale. Returns how many rows changed.
	RefreshStatuses(ctx context.Context) (int, error)
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	List(ctx context.Context, db *gorm.DB) ([]Event, error)
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
}

var (
	ErrNotFound     = errors.New("event_not_found")
	ErrInvalidType  = errors.New("invalid_event_type")
	ErrInvalidSpots = errors.New("invalid_event_spots")
	ErrInvalidTitle = errors.New("invalid_event_title")
)
