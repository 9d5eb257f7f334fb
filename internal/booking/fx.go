package booking

import (
	"github.com/fstopclub/fstop/internal/booking/repository"
	bookingservice "github.com/fstopclub/fstop/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(repository.Provide),
	fx.Provide(bookingservice.NewService),
)
