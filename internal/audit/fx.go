package audit

import (
	"github.com/fstopclub/fstop/internal/audit/repository"
	auditservice "github.com/fstopclub/fstop/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(auditservice.NewService),
)
