//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/replication/internal/config"
	"github.com/zeusync/replication/internal/server"
	"github.com/zeusync/replication/sdk/go/client"
)

func InitializeServer(cfg config.Config) (*server.Server, error) {
	wire.Build(ServerSet)
	return nil, nil
}

func InitializeClient(cfg config.Config) *client.Client {
	wire.Build(ClientSet)
	return nil
}
