package main

import (
	"github.com/smallbiznis/cdrflow/internal/clock"
	"github.com/smallbiznis/cdrflow/internal/config"
	"github.com/smallbiznis/cdrflow/internal/migration"
	"github.com/smallbiznis/cdrflow/internal/observability"
	"github.com/smallbiznis/cdrflow/internal/streaming"
	"github.com/smallbiznis/cdrflow/pkg/db"
	"go.uber.org/fx"
)

// Stream ingester: consumes the usage stream and maintains the daily
// rollup.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		streaming.Module,
	)
	app.Run()
}
