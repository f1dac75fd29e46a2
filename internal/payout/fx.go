package payout

import (
	"github.com/smallbiznis/referrals/internal/payout/repository"
	"github.com/smallbiznis/referrals/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
