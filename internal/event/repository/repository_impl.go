package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const eventColumns = `id, title, type, event_date, event_time, location, description,
	spots, spots_left, attendees, status, member_price_cents, non_member_price_cents,
	created_at, updated_at`

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var item domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM events
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

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Event, error) {
	var items []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT ` + eventColumns + `
		 FROM events
		 ORDER BY created_at DESC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (
			id, title, type, event_date, event_time, location, description,
			spots, spots_left, attendees, status, member_price_cents, non_member_price_cents,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Title,
		event.Type,
		event.Date,
		event.Time,
		event.Location,
		event.Description,
		event.Spots,
		event.SpotsLeft,
		event.Attendees,
		event.Status,
		event.MemberPriceCents,
		event.NonMemberPriceCents,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE events
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		id,
	).Error
}
