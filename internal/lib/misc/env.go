package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

func LoadEnvSettings(logger *slog.Logger) {
	if err := godotenv.Load(".env.local"); err == nil {
		Debugf(logger, "loaded .env.local")
	}
	if err := godotenv.Load(); err == nil {
		Debugf(logger, "loaded .env")
	}
}

// LoadEnvForDeployment layers .env.<deployment> overrides on top of whatever
// LoadEnvSettings already loaded.
func LoadEnvForDeployment(logger *slog.Logger, deployment string) {
	if err := godotenv.Load(fmt.Sprintf(".env.%s", deployment)); err == nil {
		Infof(logger, "loaded .env.%s overrides", deployment)
	}
}
