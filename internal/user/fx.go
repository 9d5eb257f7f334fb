package user

import (
	"github.com/fstopclub/fstop/internal/user/repository"
	userservice "github.com/fstopclub/fstop/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(userservice.NewService),
)
