package auth

import (
	"github.com/smallbiznis/referrals/internal/auth/domain"
	"github.com/smallbiznis/referrals/internal/auth/service"
	"go.uber.org/fx"
)

// Module exposes the JWT verifier both as itself, for token issuing, and as
// the domain.TokenVerifier the middleware consumes.
var Module = fx.Module("auth.service",
	fx.Provide(
		fx.Annotate(
			service.New,
			fx.As(fx.Self()),
			fx.As(new(domain.TokenVerifier)),
		),
	),
)
