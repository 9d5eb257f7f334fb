package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const userColumns = `id, email, display_name, role, membership_years, current_year_member,
	last_booking_year, personal_details_last_confirmed, events_booked,
	first_name, last_name, birth_date, address, tax_id, instagram,
	created_at, updated_at`

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+`
		 FROM users
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

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (
			id, email, display_name, role, membership_years, current_year_member,
			last_booking_year, personal_details_last_confirmed, events_booked,
			first_name, last_name, birth_date, address, tax_id, instagram,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Role,
		user.MembershipYears,
		user.CurrentYearMember,
		user.LastBookingYear,
		user.PersonalDetailsLastConfirmed,
		user.EventsBooked,
		user.FirstName,
		user.LastName,
		user.BirthDate,
		user.Address,
		user.TaxID,
		user.Instagram,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) UpdatePersonalDetails(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET first_name = ?, last_name = ?, birth_date = ?, address = ?,
		     tax_id = ?, instagram = ?, personal_details_last_confirmed = ?,
		     updated_at = ?
		 WHERE id = ?`,
		user.FirstName,
		user.LastName,
		user.BirthDate,
		user.Address,
		user.TaxID,
		user.Instagram,
		user.PersonalDetailsLastConfirmed,
		user.UpdatedAt,
		user.ID,
	).Error
}

func (r *repo) RecordBooking(ctx context.Context, db *gorm.DB, user *domain.User, eventID snowflake.ID, year int) error {
	eventKey := eventID.String()
	if !user.HasBooked(eventID) {
		user.EventsBooked = append(user.EventsBooked, eventKey)
	}
	if !user.IsMemberFor(year) {
		user.MembershipYears = append(user.MembershipYears, year)
	}
	user.CurrentYearMember = user.IsMemberFor(year)
	user.LastBookingYear = year

	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET events_booked = ?, membership_years = ?, current_year_member = ?,
		     last_booking_year = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		user.EventsBooked,
		user.MembershipYears,
		user.CurrentYearMember,
		user.LastBookingYear,
		user.ID,
	).Error
}

func (r *repo) AppendEventBooked(ctx context.Context, db *gorm.DB, userID snowflake.ID, eventID snowflake.ID) error {
	user, err := r.Find(ctx, db, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return domain.ErrNotFound
	}
	if user.HasBooked(eventID) {
		return nil
	}
	user.EventsBooked = append(user.EventsBooked, eventID.String())

	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET events_booked = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		user.EventsBooked,
		user.ID,
	).Error
}
