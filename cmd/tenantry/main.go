package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tenantry/tenantry/internal/clock"
	"github.com/tenantry/tenantry/internal/migration"
	"github.com/tenantry/tenantry/internal/observability"
	"github.com/tenantry/tenantry/internal/server"
	"github.com/tenantry/tenantry/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
		migration.Module,
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
