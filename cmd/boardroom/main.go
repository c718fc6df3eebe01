package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/config"
	"github.com/boardroomhq/boardroom/internal/migration"
	"github.com/boardroomhq/boardroom/internal/observability"
	"github.com/boardroomhq/boardroom/internal/server"
	"github.com/boardroomhq/boardroom/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
