//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

// BuildApp wires the server components using Google Wire.
func BuildApp(ctx context.Context, flags Flags) (*App, func(), error) {
	wire.Build(
		provideConfig,
		provideLogger,
		provideBackend,
		provideCatalog,
		provideHub,
		provideLeaderboard,
		provideMetrics,
		provideAggregator,
		provideExporter,
		provideService,
		provideWebhooks,
		provideHandler,
		provideServer,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
