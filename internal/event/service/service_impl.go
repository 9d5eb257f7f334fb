package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/clock"
	"github.com/fstopclub/fstop/internal/config"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"github.com/fstopclub/fstop/internal/event/schedule"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Policy *config.BookingPolicyHolder
	Repo   eventdomain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy *config.BookingPolicyHolder
	repo   eventdomain.Repository
}

func NewService(p Params) eventdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("event.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Policy,
		repo:   p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req eventdomain.CreateRequest) (*eventdomain.View, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, eventdomain.ErrInvalidTitle
	}
	if !eventdomain.ValidType(req.Type) {
		return nil, eventdomain.ErrInvalidType
	}
	if req.Spots < 0 {
		return nil, eventdomain.ErrInvalidSpots
	}

	now := s.clock.Now().UTC()
	status := s.resolve(req.Date, req.Time)
	event := eventdomain.Event{
		ID:                  s.genID.Generate(),
		Title:               req.Title,
		Type:                req.Type,
		Date:                strings.TrimSpace(req.Date),
		Time:                strings.TrimSpace(req.Time),
		Location:            strings.TrimSpace(req.Location),
		Description:         req.Description,
		Spots:               req.Spots,
		SpotsLeft:           req.Spots,
		Attendees:           datatypes.JSONSlice[string]{},
		Status:              string(status),
		MemberPriceCents:    req.MemberPriceCents,
		NonMemberPriceCents: req.NonMemberPriceCents,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		return nil, err
	}
	return &eventdomain.View{Event: event, EffectiveStatus: status}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*eventdomain.View, error) {
	event, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, eventdomain.ErrNotFound
	}
	return &eventdomain.View{
		Event:           *event,
		EffectiveStatus: s.resolve(event.Date, event.Time),
	}, nil
}

func (s *Service) List(ctx context.Context, statusFilter string) ([]eventdomain.View, error) {
	events, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	statusFilter = strings.ToLower(strings.TrimSpace(statusFilter))
	views := make([]eventdomain.View, 0, len(events))
	for _, event := range events {
		status := s.resolve(event.Date, event.Time)
		if statusFilter != "" && string(status) != statusFilter {
			// Unknown events never match a live-status filter, so a
			// malformed schedule keeps the event out of listings.
			continue
		}
		views = append(views, eventdomain.View{Event: event, EffectiveStatus: status})
	}
	return views, nil
}

func (s *Service) RefreshStatuses(ctx context.Context) (int, error) {
	events, err := s.repo.List(ctx, s.db)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, event := range events {
		status := s.resolve(event.Date, event.Time)
		if !schedule.Known(status) {
			if event.Status != string(schedule.StatusUnknown) {
				s.log.Warn("event schedule unparsable",
					zap.String("event_id", event.ID.String()),
					zap.String("date", event.Date),
					zap.String("time", event.Time),
				)
			}
			continue
		}
		if string(status) == event.Status {
			continue
		}
		if err := s.repo.UpdateStatus(ctx, s.db, event.ID, string(status)); err != nil {
			s.log.Warn("failed to persist event status",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			continue
		}
		changed++
	}
	return changed, nil
}

func (s *Service) resolve(date, timeRange string) schedule.Status {
	window := s.policy.Get().AttendanceWindow()
	return schedule.ResolveWithWindow(date, timeRange, window, s.clock.Now())
}
