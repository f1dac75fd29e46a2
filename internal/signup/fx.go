package signup

import (
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	"github.com/smallbiznis/referrals/internal/signup/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("signup.service",
	fx.Provide(newProvisioner),
	fx.Provide(NewService),
)

func newProvisioner(cfg config.Config, db *gorm.DB, outbox *events.Outbox) domain.Provisioner {
	if !cfg.Outbox.Enabled {
		return NewNoopProvisioner()
	}

	return NewEventProvisioner(db, outbox)
}
