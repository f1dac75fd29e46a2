package notification

import (
	"github.com/smallbiznis/referrals/internal/events"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler, d *events.Dispatcher) { h.Register(d) }),
)
