package main

import (
	"github.com/meridian-hq/atlas/backend/internal/server"
	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	server.Init()
}
