package event

import (
	"context"
	"time"

	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"github.com/fstopclub/fstop/internal/event/repository"
	eventservice "github.com/fstopclub/fstop/internal/event/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(eventservice.NewService),
	fx.Invoke(startStatusRefresher),
)

const refreshInterval = 10 * time.Minute

// startStatusRefresher keeps the denormalized status column roughly in
// sync with the resolved status. Reads never trust the column, so a
// missed tick is harmless.
func startStatusRefresher(lc fx.Lifecycle, svc eventdomain.Service, log *zap.Logger) {
	log = log.Named("event.refresher")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(refreshInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						changed, err := svc.RefreshStatuses(ctx)
						if err != nil {
							log.Warn("status refresh failed", zap.Error(err))
							continue
						}
						if changed > 0 {
							log.Info("event statuses refreshed", zap.Int("changed", changed))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
