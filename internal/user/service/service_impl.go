package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/clock"
	userdomain "github.com/fstopclub/fstop/internal/user/domain"
	"github.com/fstopclub/fstop/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  userdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  userdomain.Repository
}

func NewService(p Params) userdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("user.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Register(ctx context.Context, req userdomain.RegisterRequest) (*userdomain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, userdomain.ErrInvalidEmail
	}

	now := time.Now().UTC()
	user := userdomain.User{
		ID:              s.genID.Generate(),
		Email:           email,
		DisplayName:     strings.TrimSpace(req.DisplayName),
		Role:            userdomain.RoleUser,
		MembershipYears: datatypes.JSONSlice[int]{},
		EventsBooked:    datatypes.JSONSlice[string]{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, userdomain.ErrDuplicateEmail
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	user, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}
	// current_year_member is derived; recompute on read so a stale
	// stored flag never leaks out.
	user.CurrentYearMember = user.IsMemberFor(s.clock.Now().Year())
	return user, nil
}

func (s *Service) UpdatePersonalDetails(ctx context.Context, id snowflake.ID, details userdomain.PersonalDetails) (*userdomain.User, error) {
	user, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}

	user.FirstName = strings.TrimSpace(details.FirstName)
	user.LastName = strings.TrimSpace(details.LastName)
	user.BirthDate = strings.TrimSpace(details.BirthDate)
	user.Address = strings.TrimSpace(details.Address)
	user.TaxID = strings.TrimSpace(details.TaxID)
	user.Instagram = strings.TrimSpace(details.Instagram)

	if !user.PersonalDetailsComplete() {
		return nil, userdomain.ErrDetailsIncomplete
	}

	now := s.clock.Now().UTC()
	user.PersonalDetailsLastConfirmed = &now
	user.UpdatedAt = now

	if err := s.repo.UpdatePersonalDetails(ctx, s.db, user); err != nil {
		return nil, err
	}
	return user, nil
}
