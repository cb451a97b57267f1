package main

import (
	"github.com/deftorch/deftheim/cmd"
	"github.com/deftorch/deftheim/logger"

	_ "go.uber.org/automaxprocs/maxprocs"
)

func main() {
	logger.InitLogger() // Initialize the logger first
	defer logger.Sync() // Ensure logs are flushed on exit
	cmd.Execute()
}
