package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/replication/internal/config"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
	"github.com/zeusync/replication/internal/game"
	"github.com/zeusync/replication/internal/server"
	"github.com/zeusync/replication/sdk/go/client"
)

// ServerSet builds an authoritative server running the demo simulation.
var ServerSet = wire.NewSet(
	ProvideLogger,
	game.NewRegistry,
	ProvideWorld,
	ProvideSimulation,
	ProvideServer,
)

// ClientSet builds a replica client for the demo simulation.
var ClientSet = wire.NewSet(
	ProvideLogger,
	game.NewRegistry,
	ProvideClientConfig,
	client.NewClient,
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(cfg.Level())
}

func ProvideWorld(reg *registry.Registry, logger log.Log) *world.World {
	return world.New(reg, logger)
}

func ProvideSimulation(w *world.World, cfg config.Config, logger log.Log) (*game.Simulation, error) {
	return game.NewSimulation(w, cfg.Game, logger)
}

// ProvideServer takes the simulation so it is installed on w before serving.
func ProvideServer(cfg config.Config, w *world.World, _ *game.Simulation, logger log.Log) *server.Server {
	return server.NewServer(cfg, w, logger)
}

func ProvideClientConfig(cfg config.Config) client.Config {
	return client.Config{
		Protocol: cfg.Protocol,
		TickRate: cfg.TickRate,
		Clock:    cfg.Clock,
	}
}
