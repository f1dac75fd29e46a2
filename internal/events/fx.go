package events

import "go.uber.org/fx"

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(NewDispatcher),
	fx.Invoke(func(lc fx.Lifecycle, d *Dispatcher) { d.Start(lc) }),
)
