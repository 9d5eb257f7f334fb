package payment

import (
	"github.com/fstopclub/fstop/internal/payment/repository"
	paymentservice "github.com/fstopclub/fstop/internal/payment/service"
	"github.com/fstopclub/fstop/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
