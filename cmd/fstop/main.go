package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/clock"
	"github.com/fstopclub/fstop/internal/config"
	"github.com/fstopclub/fstop/internal/logger"
	"github.com/fstopclub/fstop/internal/migration"
	"github.com/fstopclub/fstop/internal/server"
	"github.com/fstopclub/fstop/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
	)

	app.Run()
}

// RegisterSnowflake builds the process-wide id generator. NODE_ID keeps
// ids unique across replicas.
func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
