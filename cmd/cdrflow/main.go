package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cdrflow/internal/batch"
	"github.com/smallbiznis/cdrflow/internal/clock"
	"github.com/smallbiznis/cdrflow/internal/config"
	"github.com/smallbiznis/cdrflow/internal/migration"
	"github.com/smallbiznis/cdrflow/internal/observability"
	"github.com/smallbiznis/cdrflow/internal/rates"
	"github.com/smallbiznis/cdrflow/internal/server"
	"github.com/smallbiznis/cdrflow/internal/streaming"
	"github.com/smallbiznis/cdrflow/pkg/db"
	"go.uber.org/fx"
)

// Monolith: batch layers, streaming ingest and the query API in one
// process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		rates.Module,
		batch.Module,
		streaming.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
