package main

import (
	"os"

	"github.com/gloriousnetworker/nysc-backend/internal/admin"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
)

func main() {
	logger.Init()
	if err := admin.Execute(); err != nil {
		os.Exit(1)
	}
}
