//go:build wireinject
// +build wireinject

package di

import (
	"QuantCore/pkg/config"
	"QuantCore/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisLocker,
		ProvideEventPublisher,

		// Coordination and upstream
		ProvideFailureTracker,
		ProvideQuoteFetcher,
		ProvideCacheStore,

		// Use cases and jobs
		ProvideAnalytics,
		ProvideScheduler,

		// HTTP boundary
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
