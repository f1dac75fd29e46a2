package referralcode

import (
	"github.com/smallbiznis/referrals/internal/referralcode/repository"
	"github.com/smallbiznis/referrals/internal/referralcode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referralcode.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
