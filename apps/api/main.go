package main

import (
	"github.com/smallbiznis/cdrflow/internal/config"
	"github.com/smallbiznis/cdrflow/internal/migration"
	"github.com/smallbiznis/cdrflow/internal/observability"
	"github.com/smallbiznis/cdrflow/internal/server"
	"github.com/smallbiznis/cdrflow/pkg/db"
	"go.uber.org/fx"
)

// Query API: read-only serving of rollup tables.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}
